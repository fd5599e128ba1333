package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/config"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	domain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

const maxConcurrentEvaluations = 8

// Service implements the validation engine.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clk       clock.Clock
	rates     ratecarddomain.Service
	stats     *metrics.BillingMetrics
	threshold float64
	slaDays   int
	timeout   time.Duration
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Rates ratecarddomain.Service
	Cfg   config.Config
	Stats *metrics.BillingMetrics `optional:"true"`
}

// NewService builds the validation engine.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("validation.service"),
		clk:       p.Clock,
		rates:     p.Rates,
		stats:     p.Stats,
		threshold: p.Cfg.Billing.PassingThreshold,
		slaDays:   p.Cfg.Billing.TimelinessSLADays,
		timeout:   p.Cfg.Billing.RuleTimeout,
	}
}

func (s *Service) Rules(entityType string) []string {
	var ids []string
	switch entityType {
	case domain.EntityProductionLine:
		for _, rule := range lineRules {
			ids = append(ids, rule.ID)
		}
	case domain.EntityInvoiceBatch:
		for _, rule := range batchRules {
			ids = append(ids, rule.ID)
		}
	}
	return ids
}

func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunResponse, error) {
	if len(req.EntityIDs) == 0 {
		return domain.RunResponse{}, domain.ErrNoEntities
	}

	selected, err := s.selectRules(req.EntityType, req.RuleIDs)
	if err != nil {
		return domain.RunResponse{}, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	switch req.EntityType {
	case domain.EntityProductionLine:
		return s.runLines(ctx, req.EntityIDs, selected)
	case domain.EntityInvoiceBatch:
		return s.runBatches(ctx, req.EntityIDs, selected)
	default:
		return domain.RunResponse{}, domain.ErrUnknownEntityType
	}
}

// selectRules filters the registry to the requested subset, defaulting to
// every rule for the entity type.
func (s *Service) selectRules(entityType string, ruleIDs []string) (map[string]bool, error) {
	known := s.Rules(entityType)
	if known == nil {
		return nil, domain.ErrUnknownEntityType
	}
	if len(ruleIDs) == 0 {
		return nil, nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}
	selected := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		id = strings.TrimSpace(id)
		if !knownSet[id] {
			return nil, domain.ErrUnknownRule
		}
		selected[id] = true
	}
	return selected, nil
}

func (s *Service) runLines(ctx context.Context, ids []string, selected map[string]bool) (domain.RunResponse, error) {
	reports := make([]domain.EntityReport, len(ids))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentEvaluations)
	var mu sync.Mutex

	for i, rawID := range ids {
		group.Go(func() error {
			report, err := s.evaluateLine(groupCtx, rawID, selected)
			if err != nil {
				return err
			}
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.RunResponse{}, domain.ErrRunTimeout
		}
		return domain.RunResponse{}, err
	}

	return domain.RunResponse{EntityType: domain.EntityProductionLine, Reports: reports}, nil
}

func (s *Service) evaluateLine(ctx context.Context, rawID string, selected map[string]bool) (domain.EntityReport, error) {
	lineID, err := linedomain.ParseID(rawID)
	if err != nil {
		return domain.EntityReport{}, linedomain.ErrInvalidID
	}
	var line linedomain.ProductionLine
	if err := s.db.WithContext(ctx).First(&line, "id = ?", lineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EntityReport{}, linedomain.ErrNotFound
		}
		return domain.EntityReport{}, err
	}

	facts, err := s.gatherLineFacts(ctx, line)
	if err != nil {
		return domain.EntityReport{}, err
	}

	report := s.evaluateLineFacts(facts, selected)

	// The stored score is a cache of the last run, refreshed here so list
	// filters on complianceScoreMin stay current.
	if err := s.db.WithContext(ctx).Model(&linedomain.ProductionLine{}).
		Where("id = ?", line.ID).
		Update("compliance_score", report.Score.Overall).Error; err != nil {
		s.log.Warn("compliance score not persisted",
			zap.String("line_id", line.ID.String()),
			zap.Error(err),
		)
	}
	return report, nil
}

func (s *Service) gatherLineFacts(ctx context.Context, line linedomain.ProductionLine) (lineFacts, error) {
	facts := lineFacts{
		Line:    line,
		SLADays: s.slaDays,
		Now:     s.clk.Now(),
	}

	var duplicates int64
	err := s.db.WithContext(ctx).Model(&linedomain.ProductionLine{}).
		Where("external_id = ? AND source_system = ?", line.ExternalID, line.SourceSystem).
		Count(&duplicates).Error
	if err != nil {
		return lineFacts{}, err
	}
	facts.DuplicateCount = duplicates

	if line.BillingLineItemCode != "" {
		scope := ratecarddomain.Scope{Contractor: line.Contractor, Project: line.ProjectID}

		resolved, err := s.rates.ResolveRate(ctx, scope, line.BillingLineItemCode, line.WorkDate)
		if err == nil {
			entry := resolved.Entry
			facts.Entry = &entry
		} else if !errors.Is(err, ratecarddomain.ErrRateNotFound) {
			return lineFacts{}, err
		}

		current, err := s.rates.ResolveRate(ctx, scope, line.BillingLineItemCode, facts.Now)
		if err == nil {
			facts.CurrentVersion = current.Version
			facts.HasCurrentVersion = true
		} else if !errors.Is(err, ratecarddomain.ErrRateNotFound) {
			return lineFacts{}, err
		}
	}
	return facts, nil
}

func (s *Service) evaluateLineFacts(facts lineFacts, selected map[string]bool) domain.EntityReport {
	var results []domain.Result
	for _, rule := range lineRules {
		if selected != nil && !selected[rule.ID] {
			continue
		}
		if !rule.Applies(facts) {
			continue
		}
		passed, message, expected, actual := rule.Check(facts)
		if !passed {
			s.stats.IncValidationFailure(rule.ID, rule.Severity)
		}
		results = append(results, domain.Result{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Category:    rule.Category,
			Severity:    rule.Severity,
			Passed:      passed,
			Message:     message,
			Expected:    expected,
			Actual:      actual,
			EvaluatedAt: facts.Now,
		})
	}
	return domain.EntityReport{
		EntityID:   facts.Line.ID.String(),
		Results:    results,
		Score:      score(results, s.threshold),
		CanProceed: canProceed(results),
	}
}

func (s *Service) runBatches(ctx context.Context, ids []string, selected map[string]bool) (domain.RunResponse, error) {
	reports := make([]domain.EntityReport, 0, len(ids))
	for _, rawID := range ids {
		report, err := s.evaluateBatch(ctx, rawID, selected)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.RunResponse{}, domain.ErrRunTimeout
			}
			return domain.RunResponse{}, err
		}
		reports = append(reports, report)
	}
	return domain.RunResponse{EntityType: domain.EntityInvoiceBatch, Reports: reports}, nil
}

func (s *Service) evaluateBatch(ctx context.Context, rawID string, selected map[string]bool) (domain.EntityReport, error) {
	batchID, err := batchdomain.ParseID(rawID)
	if err != nil {
		return domain.EntityReport{}, batchdomain.ErrInvalidID
	}
	var batch batchdomain.InvoiceBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EntityReport{}, batchdomain.ErrNotFound
		}
		return domain.EntityReport{}, err
	}

	var lines []linedomain.ProductionLine
	err = s.db.WithContext(ctx).
		Where("invoice_batch_id = ?", batch.ID).
		Find(&lines).Error
	if err != nil {
		return domain.EntityReport{}, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	// Member lines are evaluated with the full line rule set; the requested
	// subset only narrows the batch-level rules.
	lineReports := make([]domain.EntityReport, 0, len(lines))
	for _, line := range lines {
		facts, err := s.gatherLineFacts(ctx, line)
		if err != nil {
			return domain.EntityReport{}, err
		}
		lineReports = append(lineReports, s.evaluateLineFacts(facts, nil))
	}

	facts := batchFacts{
		Batch:       batch,
		Lines:       lines,
		LineReports: lineReports,
		Now:         s.clk.Now(),
	}

	var results []domain.Result
	for _, rule := range batchRules {
		if selected != nil && !selected[rule.ID] {
			continue
		}
		passed, message, expected, actual := rule.Check(facts)
		if !passed {
			s.stats.IncValidationFailure(rule.ID, rule.Severity)
		}
		results = append(results, domain.Result{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Category:    rule.Category,
			Severity:    rule.Severity,
			Passed:      passed,
			Message:     message,
			Expected:    expected,
			Actual:      actual,
			EvaluatedAt: facts.Now,
		})
	}

	return domain.EntityReport{
		EntityID:   batch.ID.String(),
		Results:    results,
		Score:      score(results, s.threshold),
		CanProceed: canProceed(results),
	}, nil
}
