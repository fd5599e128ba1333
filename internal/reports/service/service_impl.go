// Package service builds the reporting read models.
package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nextgenfiber/fieldbill/internal/clock"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	domain "github.com/nextgenfiber/fieldbill/internal/reports/domain"
)

// reasonUnspecified labels rejected lines that carry no reason flag.
const reasonUnspecified = "UNSPECIFIED"

// Service implements domain.Service over the billing tables.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	clk clock.Clock
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

// NewService builds the reports service.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("reports.service"),
		clk: p.Clock,
	}
}

func (s *Service) Aging(ctx context.Context, req domain.AgingRequest) (*domain.AgingReport, error) {
	asOf := s.clk.Now()
	if raw := strings.TrimSpace(req.AsOf); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return nil, domain.ErrInvalidDate
		}
		asOf = parsed
	}

	query := s.db.WithContext(ctx).Model(&batchdomain.InvoiceBatch{}).
		Where("status = ?", batchdomain.StatusSubmitted)
	if contractor := strings.TrimSpace(req.Contractor); contractor != "" {
		query = query.Where("contractor = ?", contractor)
	}
	var batches []batchdomain.InvoiceBatch
	if err := query.Order("due_date ASC, id ASC").Find(&batches).Error; err != nil {
		return nil, err
	}

	report := &domain.AgingReport{AsOf: asOf, OutstandingTotal: decimal.Zero}
	buckets := map[string]*domain.AgingBucket{}
	for _, label := range bucketOrder {
		buckets[label] = &domain.AgingBucket{Label: label, Total: decimal.Zero}
	}

	for i := range batches {
		batch := &batches[i]
		if batch.DueDate == nil {
			continue
		}
		daysPastDue := int(asOf.Sub(*batch.DueDate).Hours() / 24)
		bucket := buckets[bucketFor(daysPastDue)]
		bucket.Count++
		bucket.Total = bucket.Total.Add(batch.Total)
		entry := domain.AgingBatch{
			BatchID:     batch.ID.String(),
			BatchNumber: batch.BatchNumber,
			Contractor:  batch.Contractor,
			Total:       batch.Total,
			DueDate:     *batch.DueDate,
			DaysPastDue: daysPastDue,
		}
		if batch.InvoiceNumber != nil {
			entry.InvoiceNumber = *batch.InvoiceNumber
		}
		bucket.Batches = append(bucket.Batches, entry)
		report.OutstandingTotal = report.OutstandingTotal.Add(batch.Total)
	}

	for _, label := range bucketOrder {
		report.Buckets = append(report.Buckets, *buckets[label])
	}
	return report, nil
}

var bucketOrder = []string{
	domain.BucketCurrent,
	domain.BucketThirty,
	domain.BucketSixty,
	domain.BucketNinety,
	domain.BucketOverNinety,
}

func bucketFor(daysPastDue int) string {
	switch {
	case daysPastDue <= 0:
		return domain.BucketCurrent
	case daysPastDue <= 30:
		return domain.BucketThirty
	case daysPastDue <= 60:
		return domain.BucketSixty
	case daysPastDue <= 90:
		return domain.BucketNinety
	default:
		return domain.BucketOverNinety
	}
}

func (s *Service) Rejections(ctx context.Context, req domain.RejectionsRequest) (*domain.RejectionsReport, error) {
	query := s.db.WithContext(ctx).Model(&linedomain.ProductionLine{}).
		Where("status = ?", linedomain.StatusRejected)
	if contractor := strings.TrimSpace(req.Contractor); contractor != "" {
		query = query.Where("contractor = ?", contractor)
	}
	if raw := strings.TrimSpace(req.From); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			return nil, domain.ErrInvalidDate
		}
		query = query.Where("status_changed_at >= ?", from)
	}
	if raw := strings.TrimSpace(req.To); raw != "" {
		to, err := parseDate(raw)
		if err != nil {
			return nil, domain.ErrInvalidDate
		}
		query = query.Where("status_changed_at < ?", to.AddDate(0, 0, 1))
	}

	var lines []linedomain.ProductionLine
	if err := query.Find(&lines).Error; err != nil {
		return nil, err
	}

	// Reason flags live in a JSON column, so the grouping happens here
	// instead of in SQL.
	byReason := map[string]int{}
	byContractor := map[string]map[string]int{}
	for i := range lines {
		line := &lines[i]
		reasons := line.Flags
		if len(reasons) == 0 {
			reasons = []string{reasonUnspecified}
		}
		perContractor, ok := byContractor[line.Contractor]
		if !ok {
			perContractor = map[string]int{}
			byContractor[line.Contractor] = perContractor
		}
		for _, reason := range reasons {
			byReason[reason]++
			perContractor[reason]++
		}
	}

	report := &domain.RejectionsReport{
		TotalRejected: len(lines),
		ByReason:      sortedCounts(byReason),
	}
	contractors := make([]string, 0, len(byContractor))
	for contractor := range byContractor {
		contractors = append(contractors, contractor)
	}
	sort.Strings(contractors)
	for _, contractor := range contractors {
		counts := sortedCounts(byContractor[contractor])
		total := 0
		for _, count := range counts {
			total += count.Count
		}
		report.ByContractor = append(report.ByContractor, domain.ContractorRejections{
			Contractor: contractor,
			Total:      total,
			ByReason:   counts,
		})
	}
	return report, nil
}

// sortedCounts orders counts descending, ties broken by reason code.
func sortedCounts(counts map[string]int) []domain.RejectionCount {
	out := make([]domain.RejectionCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, domain.RejectionCount{ReasonCode: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ReasonCode < out[j].ReasonCode
	})
	return out
}

func parseDate(raw string) (time.Time, error) {
	if at, err := time.Parse("2006-01-02", raw); err == nil {
		return at.UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}
