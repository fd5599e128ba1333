// Package service implements the production line ledger.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/events"
	"github.com/nextgenfiber/fieldbill/internal/notify"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	domain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	"github.com/nextgenfiber/fieldbill/pkg/db/pagination"
)

// Service implements domain.Service on gorm.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clk      clock.Clock
	authz    authorization.Service
	auditSvc auditdomain.Service
	rates    ratecarddomain.Service
	outbox   *events.Outbox
	tasks    notify.Publisher
	stats    *metrics.BillingMetrics
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Authz  authorization.Service
	Audit  auditdomain.Service
	Rates  ratecarddomain.Service
	Outbox *events.Outbox
	Tasks  notify.Publisher          `optional:"true"`
	Stats  *metrics.BillingMetrics   `optional:"true"`
}

// NewService builds the ledger service.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("productionline.service"),
		genID:    p.GenID,
		clk:      p.Clock,
		authz:    p.Authz,
		auditSvc: p.Audit,
		rates:    p.Rates,
		outbox:   p.Outbox,
		tasks:    p.Tasks,
		stats:    p.Stats,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.Mutation, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	sourceSystem := strings.TrimSpace(req.SourceSystem)
	if externalID == "" || sourceSystem == "" {
		return nil, domain.ErrInvalidExternalID
	}
	contractor := strings.TrimSpace(req.Contractor)
	if contractor == "" {
		return nil, domain.ErrInvalidContractor
	}
	if !req.Quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}
	workDate, err := parseDate(req.WorkDate)
	if err != nil {
		return nil, domain.ErrInvalidWorkDate
	}

	// Idempotent on (externalId, sourceSystem): a replayed sync returns the
	// stored row instead of creating a duplicate.
	var existing domain.ProductionLine
	err = s.db.WithContext(ctx).
		Where("external_id = ? AND source_system = ?", externalID, sourceSystem).
		First(&existing).Error
	if err == nil {
		s.stats.IncLineIngested(sourceSystem, "duplicate")
		resp := toResponse(&existing)
		return &domain.Mutation{Line: &resp, Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clk.Now()
	line := domain.ProductionLine{
		ID:                  s.genID.Generate(),
		ExternalID:          externalID,
		SourceSystem:        sourceSystem,
		JobID:               strings.TrimSpace(req.JobID),
		Description:         strings.TrimSpace(req.Description),
		Quantity:            req.Quantity,
		Unit:                strings.TrimSpace(req.Unit),
		ProjectID:           strings.TrimSpace(req.ProjectID),
		ProjectName:         strings.TrimSpace(req.ProjectName),
		Contractor:          contractor,
		CrewID:              strings.TrimSpace(req.CrewID),
		CrewName:            strings.TrimSpace(req.CrewName),
		WorkDate:            workDate,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		Address:             strings.TrimSpace(req.Address),
		PoleID:              req.PoleID,
		WorkType:            strings.TrimSpace(req.WorkType),
		ActivityCode:        strings.ToUpper(strings.TrimSpace(req.ActivityCode)),
		Status:              domain.StatusPending,
		StatusChangedAt:     now,
		EvidenceCount:       req.EvidenceCount,
		HasRequiredEvidence: req.HasRequiredEvidence,
		CreatedAt:           now,
		UpdatedAt:           now,
		SyncedAt:            &now,
	}
	if req.CompletedAt != nil {
		if completed, err := parseDate(*req.CompletedAt); err == nil {
			line.CompletedAt = &completed
		}
	}

	if mapping, ok := domain.MapActivityCode(line.ActivityCode); ok {
		line.BillingLineItemCode = mapping.Code
		line.BillingDescription = mapping.Description
		if line.Unit == "" {
			line.Unit = mapping.Unit
		}
	} else {
		line.Flags = datatypes.JSONSlice[string]{"UNMAPPED_ACTIVITY"}
	}

	var auditID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&line).Error; err != nil {
			return err
		}
		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:  "production_line.ingest",
			EntityType: auditdomain.EntityProductionLine,
			EntityID:   line.ID.String(),
			NewValue: map[string]any{
				"external_id":   externalID,
				"source_system": sourceSystem,
				"quantity":      line.Quantity.String(),
				"activity_code": line.ActivityCode,
				"status":        line.Status,
			},
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			EntityType: auditdomain.EntityProductionLine,
			EntityID:   line.ID.String(),
			Type:       events.TypeLineIngested,
			Payload: map[string]any{
				"external_id":   externalID,
				"source_system": sourceSystem,
			},
			DedupeKey: "ingest:" + sourceSystem + ":" + externalID,
		})
	})
	if err != nil {
		s.stats.IncLineIngested(sourceSystem, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("production_line.ingest", line.ID), err)
		return nil, err
	}

	s.stats.IncLineIngested(sourceSystem, "created")
	resp := toResponse(&line)
	return &domain.Mutation{Line: &resp, AuditEventID: auditID.String()}, nil
}

func (s *Service) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectProductionLine, authorization.ActionLineTransition); err != nil {
		return nil, err
	}

	lineID, err := domain.ParseID(req.LineID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	newStatus := strings.ToUpper(strings.TrimSpace(req.NewStatus))
	if !domain.ValidStatus(newStatus) {
		return nil, domain.ErrInvalidStatus
	}
	// INVOICED is reachable only through batch submission.
	if newStatus == domain.StatusInvoiced {
		return nil, domain.ErrIllegalTransition
	}

	var (
		line    domain.ProductionLine
		auditID snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&line, "id = ?", lineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !domain.CanTransition(line.Status, newStatus) {
			return domain.ErrIllegalTransition
		}

		prev := map[string]any{"status": line.Status}
		next := map[string]any{"status": newStatus}
		changed := []string{"status"}
		now := s.clk.Now()

		if newStatus == domain.StatusReadyToInvoice {
			resolved, err := s.rates.ResolveRate(ctx, ratecarddomain.Scope{
				Contractor: line.Contractor,
				Project:    line.ProjectID,
			}, line.BillingLineItemCode, line.WorkDate)
			if err != nil {
				return err
			}
			rate := resolved.Entry.Rate
			extended := line.Quantity.Mul(rate)
			cardID := resolved.RateCardID
			version := resolved.Version

			prev["applied_rate"] = stringOrNil(line.AppliedRate)
			next["applied_rate"] = rate.String()
			next["extended_amount"] = extended.String()
			next["rate_card_id"] = cardID.String()
			next["rate_card_version"] = version
			changed = append(changed, "applied_rate", "extended_amount", "rate_card_id", "rate_card_version")

			line.RateCardID = &cardID
			line.RateCardVersion = &version
			line.AppliedRate = &rate
			line.ExtendedAmount = &extended
		}

		line.Status = newStatus
		line.StatusChangedAt = now
		line.UpdatedAt = now
		if err := tx.Save(&line).Error; err != nil {
			return err
		}

		var err error
		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "production_line.transition",
			EntityType:    auditdomain.EntityProductionLine,
			EntityID:      line.ID.String(),
			PreviousValue: prev,
			NewValue:      next,
			ChangedFields: changed,
			Reason:        req.Reason,
		})
		return err
	})
	if err != nil {
		s.stats.IncLineTransition(newStatus, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("production_line.transition", lineID), err)
		return nil, err
	}

	s.stats.IncLineTransition(newStatus, "success")
	resp := toResponse(&line)
	return &domain.Mutation{Line: &resp, AuditEventID: auditID.String()}, nil
}

func (s *Service) OverrideRate(ctx context.Context, req domain.OverrideRateRequest) (*domain.Mutation, error) {
	lineID, err := domain.ParseID(req.LineID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectProductionLine, authorization.ActionLineOverrideRate); err != nil {
		s.auditSvc.RecordFailure(ctx, failureEntry("production_line.override_rate", lineID), err)
		return nil, err
	}
	if !req.Rate.IsPositive() {
		return nil, domain.ErrInvalidRate
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.ErrInvalidReason
	}

	var (
		line    domain.ProductionLine
		auditID snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&line, "id = ?", lineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if line.Status == domain.StatusInvoiced {
			return domain.ErrLineImmutable
		}

		oldRate := stringOrNil(line.AppliedRate)
		oldExtended := stringOrNil(line.ExtendedAmount)

		rate := req.Rate
		extended := line.Quantity.Mul(rate)
		line.AppliedRate = &rate
		line.ExtendedAmount = &extended
		line.UpdatedAt = s.clk.Now()
		if err := tx.Save(&line).Error; err != nil {
			return err
		}

		var err error
		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:  "production_line.override_rate",
			EntityType: auditdomain.EntityProductionLine,
			EntityID:   line.ID.String(),
			PreviousValue: map[string]any{
				"applied_rate":    oldRate,
				"extended_amount": oldExtended,
			},
			NewValue: map[string]any{
				"applied_rate":    rate.String(),
				"extended_amount": extended.String(),
			},
			ChangedFields: []string{"applied_rate", "extended_amount"},
			Reason:        req.Reason,
		})
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrLineImmutable) {
			s.auditSvc.RecordFailure(ctx, failureEntry("production_line.override_rate", lineID), err)
		}
		return nil, err
	}

	resp := toResponse(&line)
	return &domain.Mutation{Line: &resp, AuditEventID: auditID.String()}, nil
}

func (s *Service) Reject(ctx context.Context, req domain.RejectRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectProductionLine, authorization.ActionLineReject); err != nil {
		return nil, err
	}

	lineID, err := domain.ParseID(req.LineID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	reasonCode := strings.TrimSpace(req.ReasonCode)
	if reasonCode == "" {
		return nil, domain.ErrInvalidReason
	}

	var (
		line    domain.ProductionLine
		auditID snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&line, "id = ?", lineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if line.InvoiceBatchID != nil {
			// Remove the line from its draft batch first; invoiced lines
			// reopen only through a batch dispute.
			return domain.ErrLineImmutable
		}
		if !domain.CanTransition(line.Status, domain.StatusRejected) {
			return domain.ErrIllegalTransition
		}

		now := s.clk.Now()
		prevStatus := line.Status
		line.Status = domain.StatusRejected
		line.StatusChangedAt = now
		line.UpdatedAt = now
		line.Flags = appendFlag(line.Flags, reasonCode)
		if err := tx.Save(&line).Error; err != nil {
			return err
		}

		var err error
		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "production_line.reject",
			EntityType:    auditdomain.EntityProductionLine,
			EntityID:      line.ID.String(),
			PreviousValue: map[string]any{"status": prevStatus},
			NewValue:      map[string]any{"status": domain.StatusRejected, "reason_code": reasonCode},
			ChangedFields: []string{"status", "flags"},
			Reason:        req.Details,
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			EntityType: auditdomain.EntityProductionLine,
			EntityID:   line.ID.String(),
			Type:       events.TypeLineRejected,
			Payload:    map[string]any{"reason_code": reasonCode},
		})
	})
	if err != nil {
		s.stats.IncLineTransition(domain.StatusRejected, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("production_line.reject", lineID), err)
		return nil, err
	}
	s.stats.IncLineTransition(domain.StatusRejected, "success")

	mutation := &domain.Mutation{AuditEventID: auditID.String()}
	if req.CreateTask && s.tasks != nil {
		// Task delivery is best effort; the rejection already committed.
		taskID, err := s.tasks.PublishTask(ctx, notify.Task{
			LineID:     line.ID.String(),
			ReasonCode: reasonCode,
			Details:    req.Details,
			AssignTo:   req.AssignTo,
		})
		if err == nil {
			mutation.TaskID = taskID
		}
	}

	resp := toResponse(&line)
	mutation.Line = &resp
	return mutation, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Mutation, error) {
	lineID, err := domain.ParseID(req.LineID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if req.Quantity != nil && !req.Quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}

	var (
		line    domain.ProductionLine
		auditID snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&line, "id = ?", lineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if line.Status == domain.StatusInvoiced {
			return domain.ErrLineImmutable
		}
		if req.IfUpdatedAt != nil && !line.UpdatedAt.Equal(*req.IfUpdatedAt) {
			return domain.ErrStaleUpdate
		}

		prev := map[string]any{}
		next := map[string]any{}
		var changed []string

		if req.Description != nil && *req.Description != line.Description {
			prev["description"] = line.Description
			next["description"] = *req.Description
			changed = append(changed, "description")
			line.Description = *req.Description
		}
		if req.BillingLineItemCode != nil && *req.BillingLineItemCode != line.BillingLineItemCode {
			prev["billing_line_item_code"] = line.BillingLineItemCode
			next["billing_line_item_code"] = *req.BillingLineItemCode
			changed = append(changed, "billing_line_item_code")
			line.BillingLineItemCode = *req.BillingLineItemCode
			line.Flags = removeFlag(line.Flags, "UNMAPPED_ACTIVITY")
		}
		if req.EvidenceCount != nil && *req.EvidenceCount != line.EvidenceCount {
			prev["evidence_count"] = line.EvidenceCount
			next["evidence_count"] = *req.EvidenceCount
			changed = append(changed, "evidence_count")
			line.EvidenceCount = *req.EvidenceCount
		}
		if req.HasRequiredEvidence != nil && *req.HasRequiredEvidence != line.HasRequiredEvidence {
			prev["has_required_evidence"] = line.HasRequiredEvidence
			next["has_required_evidence"] = *req.HasRequiredEvidence
			changed = append(changed, "has_required_evidence")
			line.HasRequiredEvidence = *req.HasRequiredEvidence
		}
		if req.Quantity != nil && !req.Quantity.Equal(line.Quantity) {
			prev["quantity"] = line.Quantity.String()
			next["quantity"] = req.Quantity.String()
			changed = append(changed, "quantity")
			line.Quantity = *req.Quantity
			// Extended amount is snapshotted whenever quantity or rate
			// changes, inside the same transaction as its audit record.
			if line.AppliedRate != nil {
				extended := line.Quantity.Mul(*line.AppliedRate)
				prev["extended_amount"] = stringOrNil(line.ExtendedAmount)
				next["extended_amount"] = extended.String()
				changed = append(changed, "extended_amount")
				line.ExtendedAmount = &extended
			}
		}

		if len(changed) == 0 {
			return nil
		}
		line.UpdatedAt = s.clk.Now()
		if err := tx.Save(&line).Error; err != nil {
			return err
		}

		var err error
		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "production_line.update",
			EntityType:    auditdomain.EntityProductionLine,
			EntityID:      line.ID.String(),
			PreviousValue: prev,
			NewValue:      next,
			ChangedFields: changed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	resp := toResponse(&line)
	mutation := &domain.Mutation{Line: &resp}
	if auditID != 0 {
		mutation.AuditEventID = auditID.String()
	}
	return mutation, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	query := s.db.WithContext(ctx).Model(&domain.ProductionLine{})

	if project := strings.TrimSpace(req.Project); project != "" {
		query = query.Where("project_id = ?", project)
	}
	if contractor := strings.TrimSpace(req.Contractor); contractor != "" {
		query = query.Where("contractor = ?", contractor)
	}
	if crew := strings.TrimSpace(req.Crew); crew != "" {
		query = query.Where("crew_id = ?", crew)
	}
	if statuses := normalizeStatuses(req.Statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if from, err := parseDate(req.WorkDateFrom); err == nil && req.WorkDateFrom != "" {
		query = query.Where("work_date >= ?", from)
	}
	if to, err := parseDate(req.WorkDateTo); err == nil && req.WorkDateTo != "" {
		query = query.Where("work_date <= ?", to)
	}
	if req.HasEvidence != nil {
		query = query.Where("has_required_evidence = ?", *req.HasEvidence)
	}
	if req.ComplianceScoreMin != nil {
		query = query.Where("compliance_score >= ?", *req.ComplianceScoreMin)
	}
	if req.NotInvoiced {
		query = query.Where("invoice_batch_id IS NULL AND status <> ?", domain.StatusInvoiced)
	}
	if search := strings.TrimSpace(req.Search); search != "" {
		pattern := "%" + search + "%"
		query = query.Where(
			"description LIKE ? OR external_id LIKE ? OR job_id LIKE ? OR address LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return domain.ListResponse{}, err
	}

	var lines []domain.ProductionLine
	if err := req.Pagination.Scope(query).Order("work_date DESC, id DESC").Find(&lines).Error; err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{
		PageInfo: pagination.NewPageInfo(req.Pagination, total),
		Lines:    make([]domain.Response, 0, len(lines)),
	}
	for i := range lines {
		resp.Lines = append(resp.Lines, toResponse(&lines[i]))
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Response, error) {
	lineID, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	var line domain.ProductionLine
	if err := s.db.WithContext(ctx).First(&line, "id = ?", lineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	resp := toResponse(&line)
	return &resp, nil
}

func toResponse(line *domain.ProductionLine) domain.Response {
	resp := domain.Response{
		ID:                  line.ID.String(),
		ExternalID:          line.ExternalID,
		SourceSystem:        line.SourceSystem,
		JobID:               line.JobID,
		Description:         line.Description,
		Quantity:            line.Quantity,
		Unit:                line.Unit,
		ProjectID:           line.ProjectID,
		ProjectName:         line.ProjectName,
		Contractor:          line.Contractor,
		CrewID:              line.CrewID,
		CrewName:            line.CrewName,
		WorkDate:            line.WorkDate,
		CompletedAt:         line.CompletedAt,
		Latitude:            line.Latitude,
		Longitude:           line.Longitude,
		Address:             line.Address,
		PoleID:              line.PoleID,
		WorkType:            line.WorkType,
		ActivityCode:        line.ActivityCode,
		Status:              line.Status,
		StatusChangedAt:     line.StatusChangedAt,
		EvidenceCount:       line.EvidenceCount,
		HasRequiredEvidence: line.HasRequiredEvidence,
		BillingLineItemCode: line.BillingLineItemCode,
		BillingDescription:  line.BillingDescription,
		RateCardVersion:     line.RateCardVersion,
		AppliedRate:         line.AppliedRate,
		ExtendedAmount:      line.ExtendedAmount,
		ComplianceScore:     line.ComplianceScore,
		Flags:               line.Flags,
		CreatedAt:           line.CreatedAt,
		UpdatedAt:           line.UpdatedAt,
	}
	if line.RateCardID != nil {
		resp.RateCardID = line.RateCardID.String()
	}
	if line.InvoiceBatchID != nil {
		resp.InvoiceBatchID = line.InvoiceBatchID.String()
	}
	return resp
}

func normalizeStatuses(raw []string) []string {
	var statuses []string
	for _, status := range raw {
		status = strings.ToUpper(strings.TrimSpace(status))
		if domain.ValidStatus(status) {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func appendFlag(flags datatypes.JSONSlice[string], flag string) datatypes.JSONSlice[string] {
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func removeFlag(flags datatypes.JSONSlice[string], flag string) datatypes.JSONSlice[string] {
	out := flags[:0]
	for _, existing := range flags {
		if existing != flag {
			out = append(out, existing)
		}
	}
	return out
}

func stringOrNil(value *decimal.Decimal) any {
	if value == nil {
		return nil
	}
	return value.String()
}

const dateLayout = "2006-01-02"

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if at, err := time.Parse(dateLayout, raw); err == nil {
		return at.UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}

func failureEntry(eventType string, entityID snowflake.ID) auditdomain.Entry {
	return auditdomain.Entry{
		EventType:  eventType,
		EntityType: auditdomain.EntityProductionLine,
		EntityID:   entityID.String(),
	}
}

// lockForUpdate applies row locking on dialects that support it.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
