// Package service implements the invoice batch assembler.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	domain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	validationdomain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
	"github.com/nextgenfiber/fieldbill/pkg/db/pagination"
)

// Service implements domain.Service on gorm.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clk       clock.Clock
	authz     authorization.Service
	auditSvc  auditdomain.Service
	rates     ratecarddomain.Service
	validator validationdomain.Service
	outbox    *events.Outbox
	stats     *metrics.BillingMetrics
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Authz     authorization.Service
	Audit     auditdomain.Service
	Rates     ratecarddomain.Service
	Validator validationdomain.Service
	Outbox    *events.Outbox
	Stats     *metrics.BillingMetrics `optional:"true"`
}

// NewService builds the assembler service.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoicebatch.service"),
		genID:     p.GenID,
		clk:       p.Clock,
		authz:     p.Authz,
		auditSvc:  p.Audit,
		rates:     p.Rates,
		validator: p.Validator,
		outbox:    p.Outbox,
		stats:     p.Stats,
	}
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchCreate); err != nil {
		return nil, err
	}

	contractor := strings.TrimSpace(req.Contractor)
	if contractor == "" {
		return nil, domain.ErrInvalidContractor
	}
	periodStart, err := parseDate(req.PeriodStart)
	if err != nil {
		return nil, domain.ErrInvalidPeriod
	}
	periodEnd, err := parseDate(req.PeriodEnd)
	if err != nil {
		return nil, domain.ErrInvalidPeriod
	}
	if periodEnd.Before(periodStart) {
		return nil, domain.ErrInvalidPeriod
	}
	terms := strings.ToUpper(strings.TrimSpace(req.PaymentTerms))
	if _, ok := domain.TermsDays(terms); !ok {
		return nil, domain.ErrInvalidTerms
	}
	lineIDs, err := parseLineIDs(req.LineIDs)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	batch := domain.InvoiceBatch{
		ID:           s.genID.Generate(),
		Contractor:   contractor,
		ProjectID:    strings.TrimSpace(req.ProjectID),
		ProjectName:  strings.TrimSpace(req.ProjectName),
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Status:       domain.StatusDraft,
		PaymentTerms: terms,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		StatusHistory: datatypes.JSONSlice[domain.StatusChange]{
			{Status: domain.StatusDraft, Actor: actor.ID, At: now},
		},
	}

	var auditID snowflake.ID
	// batch_number carries a unique index; concurrent creates can race to the
	// same sequence, so the next candidate is tried on a conflict.
	for attempt := 0; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var seq int64
			if err := tx.Model(&domain.InvoiceBatch{}).Count(&seq).Error; err != nil {
				return err
			}
			batch.BatchNumber = fmt.Sprintf("FB-%d-%04d", now.Year(), seq+1+int64(attempt))

			lines, err := s.claimLines(ctx, tx, batch.ID, lineIDs)
			if err != nil {
				return err
			}
			s.aggregate(&batch, lines)

			if err := tx.Create(&batch).Error; err != nil {
				return err
			}
			auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				EventType:  "invoice_batch.create",
				EntityType: auditdomain.EntityInvoiceBatch,
				EntityID:   batch.ID.String(),
				NewValue: map[string]any{
					"batch_number": batch.BatchNumber,
					"contractor":   contractor,
					"line_count":   len(lines),
					"subtotal":     batch.Subtotal.String(),
				},
			})
			return err
		})
		if err == nil || attempt >= 3 || !isDuplicateBatchNumber(err) {
			break
		}
	}
	if err != nil {
		s.stats.IncBatchTransition(domain.StatusDraft, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.create", batch.ID), err)
		return nil, err
	}

	s.stats.IncBatchTransition(domain.StatusDraft, "success")
	return s.mutation(ctx, batch.ID, auditID, nil)
}

func (s *Service) UpdateBatch(ctx context.Context, req domain.UpdateRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchUpdate); err != nil {
		return nil, err
	}
	batchID, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	addIDs, err := parseLineIDsAllowEmpty(req.AddLineIDs)
	if err != nil {
		return nil, err
	}
	removeIDs, err := parseLineIDsAllowEmpty(req.RemoveLineIDs)
	if err != nil {
		return nil, err
	}

	var auditID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		// A DISPUTED batch returns to DRAFT through correction.
		reopened := domain.CanTransition(batch.Status, domain.StatusDraft)
		if batch.Status != domain.StatusDraft && !reopened {
			return domain.ErrInvalidState
		}
		if req.IfUpdatedAt != nil && !batch.UpdatedAt.Equal(*req.IfUpdatedAt) {
			return domain.ErrStaleUpdate
		}

		prev := map[string]any{"status": batch.Status, "subtotal": batch.Subtotal.String()}
		var changed []string

		if len(removeIDs) > 0 {
			result := tx.Model(&linedomain.ProductionLine{}).
				Where("id IN ? AND invoice_batch_id = ?", removeIDs, batch.ID).
				Update("invoice_batch_id", nil)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != int64(len(removeIDs)) {
				return domain.ErrInvalidLineSet
			}
			changed = append(changed, "line_ids")
		}
		if len(addIDs) > 0 {
			if _, err := s.claimLines(ctx, tx, batch.ID, addIDs); err != nil {
				return err
			}
			changed = append(changed, "line_ids")
		}
		if req.Notes != nil && *req.Notes != batch.Notes {
			batch.Notes = *req.Notes
			changed = append(changed, "notes")
		}
		if req.Attachments != nil {
			batch.Attachments = datatypes.JSONSlice[string](req.Attachments)
			changed = append(changed, "attachments")
		}

		now := s.clk.Now()
		if reopened {
			batch.Status = domain.StatusDraft
			batch.StatusHistory = append(batch.StatusHistory, domain.StatusChange{
				Status: domain.StatusDraft, Actor: actor.ID, Note: "dispute correction", At: now,
			})
			changed = append(changed, "status")
		}

		members, err := s.memberLines(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		s.aggregate(batch, members)
		batch.UpdatedAt = now
		if err := tx.Save(batch).Error; err != nil {
			return err
		}

		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "invoice_batch.update",
			EntityType:    auditdomain.EntityInvoiceBatch,
			EntityID:      batch.ID.String(),
			PreviousValue: prev,
			NewValue: map[string]any{
				"status":     batch.Status,
				"subtotal":   batch.Subtotal.String(),
				"line_count": len(members),
			},
			ChangedFields: changed,
		})
		return err
	})
	if err != nil {
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.update", batchID), err)
		return nil, err
	}
	return s.mutation(ctx, batchID, auditID, nil)
}

func (s *Service) AddDeduction(ctx context.Context, req domain.AddDeductionRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchUpdate); err != nil {
		return nil, err
	}
	batchID, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, domain.ErrInvalidDeduction
	}
	if (req.Percent == nil) == (req.Amount == nil) {
		return nil, domain.ErrInvalidDeduction
	}
	if req.Percent != nil && (req.Percent.IsNegative() || req.Percent.GreaterThan(decimal.NewFromInt(100))) {
		return nil, domain.ErrInvalidDeduction
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, domain.ErrInvalidDeduction
	}

	var auditID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != domain.StatusDraft && batch.Status != domain.StatusDisputed {
			return domain.ErrInvalidState
		}

		deduction := domain.Deduction{
			Category:    category,
			Description: strings.TrimSpace(req.Description),
			Percent:     req.Percent,
			Reason:      strings.TrimSpace(req.Reason),
			AddedBy:     actor.ID,
			AddedAt:     s.clk.Now(),
		}
		if req.Amount != nil {
			deduction.Amount = *req.Amount
		}
		batch.Deductions = append(batch.Deductions, deduction)

		prevTotal := batch.Total.String()
		recomputeTotals(batch)
		batch.UpdatedAt = s.clk.Now()
		if err := tx.Save(batch).Error; err != nil {
			return err
		}

		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "invoice_batch.add_deduction",
			EntityType:    auditdomain.EntityInvoiceBatch,
			EntityID:      batch.ID.String(),
			PreviousValue: map[string]any{"total": prevTotal},
			NewValue: map[string]any{
				"category":         category,
				"deductions_total": batch.DeductionsTotal.String(),
				"total":            batch.Total.String(),
			},
			ChangedFields: []string{"deductions", "deductions_total", "total"},
			Reason:        req.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.mutation(ctx, batchID, auditID, nil)
}

func (s *Service) AssessReadiness(ctx context.Context, rawID string) (*domain.PackageReadiness, error) {
	batchID, err := domain.ParseID(rawID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	resp, err := s.validator.Run(ctx, validationdomain.RunRequest{
		EntityType: validationdomain.EntityInvoiceBatch,
		EntityIDs:  []string{batchID.String()},
	})
	if err != nil {
		if errors.Is(err, validationdomain.ErrNoEntities) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(resp.Reports) != 1 {
		return nil, domain.ErrNotFound
	}
	report := resp.Reports[0]

	readiness := domain.PackageReadiness{
		Score:      report.Score.Overall,
		AssessedAt: s.clk.Now(),
	}
	ready := true
	for _, result := range report.Results {
		// ERROR-severity checks gate submission; the rest only affect the
		// score.
		required := result.Severity == validationdomain.SeverityError
		if required && !result.Passed {
			ready = false
		}
		readiness.Checklist = append(readiness.Checklist, domain.ChecklistItem{
			Name:     result.RuleID,
			Required: required,
			Passed:   result.Passed,
			Detail:   result.Message,
		})
	}
	readiness.IsReady = ready

	err = s.db.WithContext(ctx).Model(&domain.InvoiceBatch{}).
		Where("id = ?", batchID).
		Update("readiness", datatypes.NewJSONType(readiness)).Error
	if err != nil {
		return nil, err
	}
	return &readiness, nil
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchSubmit); err != nil {
		return nil, err
	}
	batchID, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		return nil, domain.ErrInvalidInvoiceNo
	}

	// Idempotent retry: the same invoice number on an already-submitted
	// batch returns it unchanged.
	var current domain.InvoiceBatch
	if err := s.db.WithContext(ctx).First(&current, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if current.Status == domain.StatusSubmitted {
		if current.InvoiceNumber != nil && *current.InvoiceNumber == invoiceNumber {
			return s.mutation(ctx, batchID, 0, nil)
		}
		return nil, domain.ErrInvoiceNoConflict
	}
	if !domain.CanTransition(current.Status, domain.StatusSubmitted) {
		return nil, domain.ErrInvalidState
	}

	readiness, err := s.AssessReadiness(ctx, batchID.String())
	if err != nil {
		return nil, err
	}
	if !readiness.IsReady {
		s.stats.IncBatchTransition(domain.StatusSubmitted, "not_ready")
		var failed []domain.ChecklistItem
		for _, item := range readiness.Checklist {
			if !item.Passed {
				failed = append(failed, item)
			}
		}
		notReady := &domain.NotReadyError{Checklist: failed}
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.submit", batchID), notReady)
		return nil, notReady
	}

	var auditID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(batch.Status, domain.StatusSubmitted) {
			return domain.ErrInvalidState
		}

		lines, err := s.memberLines(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrInvalidLineSet
		}

		// One frozen snapshot per distinct (rate card, version) in use.
		type cardVersion struct {
			ID      snowflake.ID
			Version int
		}
		seen := map[cardVersion]bool{}
		var snapshots []*ratecarddomain.Snapshot
		for _, line := range lines {
			if line.RateCardID == nil || line.RateCardVersion == nil {
				return domain.ErrLineNotEligible
			}
			key := cardVersion{*line.RateCardID, *line.RateCardVersion}
			if seen[key] {
				continue
			}
			seen[key] = true
			snapshot, err := s.rates.FreezeSnapshot(ctx, key.ID, key.Version)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		frozen, err := json.Marshal(snapshots)
		if err != nil {
			return err
		}

		now := s.clk.Now()
		days, _ := domain.TermsDays(batch.PaymentTerms)
		dueDate := now.AddDate(0, 0, days)

		for i := range lines {
			line := &lines[i]
			if line.Status == linedomain.StatusInvoiced {
				continue
			}
			if line.Status != linedomain.StatusReadyToInvoice {
				return domain.ErrLineNotEligible
			}
			prevStatus := line.Status
			line.Status = linedomain.StatusInvoiced
			line.StatusChangedAt = now
			line.UpdatedAt = now
			if err := tx.Save(line).Error; err != nil {
				return err
			}
			if _, err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				EventType:     "production_line.transition",
				EntityType:    auditdomain.EntityProductionLine,
				EntityID:      line.ID.String(),
				PreviousValue: map[string]any{"status": prevStatus},
				NewValue:      map[string]any{"status": linedomain.StatusInvoiced, "invoice_number": invoiceNumber},
				ChangedFields: []string{"status"},
			}); err != nil {
				return err
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				EntityType: auditdomain.EntityProductionLine,
				EntityID:   line.ID.String(),
				Type:       events.TypeLineInvoiced,
				Payload:    map[string]any{"invoice_number": invoiceNumber},
				DedupeKey:  "invoiced:" + line.ID.String() + ":" + invoiceNumber,
			}); err != nil {
				return err
			}
		}

		batch.Status = domain.StatusSubmitted
		batch.InvoiceNumber = &invoiceNumber
		batch.SubmittedAt = &now
		submittedBy := actor.ID
		batch.SubmittedBy = &submittedBy
		batch.DueDate = &dueDate
		batch.RateSnapshots = datatypes.JSON(frozen)
		if notes := strings.TrimSpace(req.CustomerNotes); notes != "" {
			batch.CustomerNotes = &notes
		}
		batch.StatusHistory = append(batch.StatusHistory, domain.StatusChange{
			Status: domain.StatusSubmitted, Actor: actor.ID, At: now,
		})
		batch.UpdatedAt = now
		if err := tx.Save(batch).Error; err != nil {
			return err
		}

		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "invoice_batch.submit",
			EntityType:    auditdomain.EntityInvoiceBatch,
			EntityID:      batch.ID.String(),
			PreviousValue: map[string]any{"status": domain.StatusDraft},
			NewValue: map[string]any{
				"status":         domain.StatusSubmitted,
				"invoice_number": invoiceNumber,
				"due_date":       dueDate.Format(dateLayout),
				"total":          batch.Total.String(),
			},
			ChangedFields: []string{"status", "invoice_number", "due_date", "rate_snapshots"},
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			EntityType: auditdomain.EntityInvoiceBatch,
			EntityID:   batch.ID.String(),
			Type:       events.TypeBatchSubmitted,
			Payload: map[string]any{
				"invoice_number": invoiceNumber,
				"total":          batch.Total.String(),
			},
			DedupeKey: "submit:" + batch.ID.String() + ":" + invoiceNumber,
		})
	})
	if err != nil {
		s.stats.IncBatchTransition(domain.StatusSubmitted, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.submit", batchID), err)
		return nil, err
	}

	s.stats.IncBatchTransition(domain.StatusSubmitted, "success")
	return s.mutation(ctx, batchID, auditID, nil)
}

func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchPayment); err != nil {
		return nil, err
	}
	batchID, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if !req.PaidAmount.IsPositive() {
		return nil, domain.ErrInvalidPaidAmount
	}
	paidAt := s.clk.Now()
	if raw := strings.TrimSpace(req.PaidAt); raw != "" {
		paidAt, err = parseDate(raw)
		if err != nil {
			return nil, domain.ErrInvalidPaidAt
		}
	}

	var (
		auditID  snowflake.ID
		warnings []string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(batch.Status, domain.StatusPaid) {
			return domain.ErrInvalidState
		}

		now := s.clk.Now()
		if !req.PaidAmount.Equal(batch.Total) {
			// Mismatch is a warning, not a block; it is recorded in the
			// batch notes for reconciliation.
			warning := fmt.Sprintf("paid amount %s does not match batch total %s",
				req.PaidAmount.String(), batch.Total.String())
			warnings = append(warnings, warning)
			if batch.Notes != "" {
				batch.Notes += "\n"
			}
			batch.Notes += "AMOUNT_MISMATCH: " + warning
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			if batch.Notes != "" {
				batch.Notes += "\n"
			}
			batch.Notes += notes
		}

		paid := req.PaidAmount
		batch.Status = domain.StatusPaid
		batch.PaidAmount = &paid
		batch.PaidAt = &paidAt
		if ref := strings.TrimSpace(req.PaymentReference); ref != "" {
			batch.PaymentReference = &ref
		}
		batch.StatusHistory = append(batch.StatusHistory, domain.StatusChange{
			Status: domain.StatusPaid, Actor: actor.ID, At: now,
		})
		batch.UpdatedAt = now
		if err := tx.Save(batch).Error; err != nil {
			return err
		}

		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "invoice_batch.record_payment",
			EntityType:    auditdomain.EntityInvoiceBatch,
			EntityID:      batch.ID.String(),
			PreviousValue: map[string]any{"status": domain.StatusSubmitted},
			NewValue: map[string]any{
				"status":      domain.StatusPaid,
				"paid_amount": paid.String(),
				"paid_at":     paidAt.Format(dateLayout),
			},
			ChangedFields: []string{"status", "paid_amount", "paid_at"},
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			EntityType: auditdomain.EntityInvoiceBatch,
			EntityID:   batch.ID.String(),
			Type:       events.TypeBatchPaid,
			Payload:    map[string]any{"paid_amount": paid.String()},
		})
	})
	if err != nil {
		s.stats.IncBatchTransition(domain.StatusPaid, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.record_payment", batchID), err)
		return nil, err
	}

	s.stats.IncBatchTransition(domain.StatusPaid, "success")
	return s.mutation(ctx, batchID, auditID, warnings)
}

func (s *Service) Dispute(ctx context.Context, req domain.DisputeRequest) (*domain.Mutation, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectInvoiceBatch, authorization.ActionBatchDispute); err != nil {
		return nil, err
	}
	batchID, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidLineSet
	}
	lineIDs, err := parseLineIDs(req.LineIDs)
	if err != nil {
		return nil, err
	}

	var auditID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(batch.Status, domain.StatusDisputed) {
			return domain.ErrInvalidState
		}

		var disputed []linedomain.ProductionLine
		err = lockForUpdate(tx).
			Where("id IN ? AND invoice_batch_id = ?", lineIDs, batch.ID).
			Find(&disputed).Error
		if err != nil {
			return err
		}
		if len(disputed) != len(lineIDs) {
			return domain.ErrInvalidLineSet
		}

		now := s.clk.Now()
		for i := range disputed {
			line := &disputed[i]
			prevStatus := line.Status
			line.Status = linedomain.StatusRejected
			line.StatusChangedAt = now
			line.UpdatedAt = now
			line.InvoiceBatchID = nil
			line.Flags = appendFlag(line.Flags, reason)
			if err := tx.Save(line).Error; err != nil {
				return err
			}
			if _, err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				EventType:     "production_line.reject",
				EntityType:    auditdomain.EntityProductionLine,
				EntityID:      line.ID.String(),
				PreviousValue: map[string]any{"status": prevStatus},
				NewValue:      map[string]any{"status": linedomain.StatusRejected, "reason_code": reason},
				ChangedFields: []string{"status", "invoice_batch_id"},
				Reason:        "batch dispute",
			}); err != nil {
				return err
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				EntityType: auditdomain.EntityProductionLine,
				EntityID:   line.ID.String(),
				Type:       events.TypeLineRejected,
				Payload:    map[string]any{"reason_code": reason},
			}); err != nil {
				return err
			}
		}

		remaining, err := s.memberLines(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		prevTotal := batch.Total.String()
		s.aggregate(batch, remaining)

		batch.Status = domain.StatusDisputed
		batch.StatusHistory = append(batch.StatusHistory, domain.StatusChange{
			Status: domain.StatusDisputed, Actor: actor.ID, Note: reason, At: now,
		})
		batch.UpdatedAt = now
		if err := tx.Save(batch).Error; err != nil {
			return err
		}

		auditID, err = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "invoice_batch.dispute",
			EntityType:    auditdomain.EntityInvoiceBatch,
			EntityID:      batch.ID.String(),
			PreviousValue: map[string]any{"status": domain.StatusSubmitted, "total": prevTotal},
			NewValue: map[string]any{
				"status":         domain.StatusDisputed,
				"disputed_lines": len(disputed),
				"total":          batch.Total.String(),
			},
			ChangedFields: []string{"status", "line_ids", "line_items", "total"},
			Reason:        reason,
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			EntityType: auditdomain.EntityInvoiceBatch,
			EntityID:   batch.ID.String(),
			Type:       events.TypeBatchDisputed,
			Payload:    map[string]any{"reason": reason, "disputed_lines": len(disputed)},
		})
	})
	if err != nil {
		s.stats.IncBatchTransition(domain.StatusDisputed, "error")
		s.auditSvc.RecordFailure(ctx, failureEntry("invoice_batch.dispute", batchID), err)
		return nil, err
	}

	s.stats.IncBatchTransition(domain.StatusDisputed, "success")
	return s.mutation(ctx, batchID, auditID, nil)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	query := s.db.WithContext(ctx).Model(&domain.InvoiceBatch{})
	if contractor := strings.TrimSpace(req.Contractor); contractor != "" {
		query = query.Where("contractor = ?", contractor)
	}
	if project := strings.TrimSpace(req.Project); project != "" {
		query = query.Where("project_id = ?", project)
	}
	if len(req.Statuses) > 0 {
		query = query.Where("status IN ?", req.Statuses)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return domain.ListResponse{}, err
	}
	var batches []domain.InvoiceBatch
	if err := req.Pagination.Scope(query).Order("created_at DESC, id DESC").Find(&batches).Error; err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{
		PageInfo: pagination.NewPageInfo(req.Pagination, total),
		Batches:  make([]domain.Response, 0, len(batches)),
	}
	for i := range batches {
		out, err := s.toResponse(ctx, s.db, &batches[i])
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.Batches = append(resp.Batches, out)
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Response, error) {
	batchID, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	var batch domain.InvoiceBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	resp, err := s.toResponse(ctx, s.db, &batch)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// claimLines locks and validates a line set for batch membership, then marks
// every line as referenced by the batch.
func (s *Service) claimLines(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, lineIDs []snowflake.ID) ([]linedomain.ProductionLine, error) {
	var lines []linedomain.ProductionLine
	err := lockForUpdate(tx).
		Where("id IN ?", lineIDs).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	if len(lines) != len(lineIDs) {
		return nil, domain.ErrInvalidLineSet
	}

	for i := range lines {
		line := &lines[i]
		if line.InvoiceBatchID != nil || line.Status == linedomain.StatusInvoiced {
			return nil, domain.ErrLineAlreadyInvoiced
		}
		if line.Status != linedomain.StatusReadyToInvoice {
			return nil, domain.ErrLineNotEligible
		}
		id := batchID
		line.InvoiceBatchID = &id
		line.UpdatedAt = s.clk.Now()
		if err := tx.Save(line).Error; err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func (s *Service) memberLines(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) ([]linedomain.ProductionLine, error) {
	var lines []linedomain.ProductionLine
	err := tx.WithContext(ctx).
		Where("invoice_batch_id = ?", batchID).
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

// aggregate rebuilds the per-code line items and all totals from the member
// lines. Called after every membership mutation while the batch is mutable.
func (s *Service) aggregate(batch *domain.InvoiceBatch, lines []linedomain.ProductionLine) {
	byCode := map[string]*domain.BatchLineItem{}
	var order []string

	for i := range lines {
		line := &lines[i]
		code := line.BillingLineItemCode
		item, ok := byCode[code]
		if !ok {
			item = &domain.BatchLineItem{
				LineItemCode: code,
				Description:  line.BillingDescription,
				Unit:         line.Unit,
			}
			if line.AppliedRate != nil {
				item.Rate = *line.AppliedRate
			}
			if line.RateCardID != nil {
				item.RateCardID = line.RateCardID.String()
			}
			if line.RateCardVersion != nil {
				item.RateCardVersion = *line.RateCardVersion
			}
			byCode[code] = item
			order = append(order, code)
		}

		item.TotalQty = item.TotalQty.Add(line.Quantity)
		item.Breakdown = append(item.Breakdown, domain.QtyBreakdown{
			LineID:   line.ID.String(),
			Quantity: line.Quantity,
		})
		if line.ExtendedAmount != nil {
			item.ExtendedAmount = item.ExtendedAmount.Add(*line.ExtendedAmount)
		}
		item.EvidenceCount += line.EvidenceCount
		if line.AppliedRate != nil && !item.Rate.Equal(*line.AppliedRate) {
			// Mixed rates under one code, e.g. after an override.
			item.HasIssues = true
		}
		if line.ComplianceScore != nil {
			// Running average keeps the loop single-pass.
			n := float64(len(item.Breakdown))
			item.ComplianceScore = item.ComplianceScore + (*line.ComplianceScore-item.ComplianceScore)/n
		}
	}

	items := make(datatypes.JSONSlice[domain.BatchLineItem], 0, len(order))
	for _, code := range order {
		items = append(items, *byCode[code])
	}
	batch.LineItems = items
	recomputeTotals(batch)
}

// recomputeTotals rebuilds subtotal, deduction amounts, and the grand total.
func recomputeTotals(batch *domain.InvoiceBatch) {
	subtotal := decimal.Zero
	for _, item := range batch.LineItems {
		subtotal = subtotal.Add(item.ExtendedAmount)
	}
	batch.Subtotal = subtotal

	deductionsTotal := decimal.Zero
	for i := range batch.Deductions {
		deduction := &batch.Deductions[i]
		if deduction.Percent != nil {
			deduction.Amount = subtotal.Mul(*deduction.Percent).Div(decimal.NewFromInt(100)).Round(2)
		}
		deductionsTotal = deductionsTotal.Add(deduction.Amount)
	}
	batch.DeductionsTotal = deductionsTotal
	batch.Total = subtotal.Sub(deductionsTotal)
}

func (s *Service) lockBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) (*domain.InvoiceBatch, error) {
	var batch domain.InvoiceBatch
	if err := lockForUpdate(tx).First(&batch, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Service) mutation(ctx context.Context, batchID snowflake.ID, auditID snowflake.ID, warnings []string) (*domain.Mutation, error) {
	resp, err := s.GetByID(ctx, batchID.String())
	if err != nil {
		return nil, err
	}
	mutation := &domain.Mutation{Batch: resp, Warnings: warnings}
	if auditID != 0 {
		mutation.AuditEventID = auditID.String()
	}
	return mutation, nil
}

func (s *Service) toResponse(ctx context.Context, db *gorm.DB, batch *domain.InvoiceBatch) (domain.Response, error) {
	var lineIDs []snowflake.ID
	err := db.WithContext(ctx).Model(&linedomain.ProductionLine{}).
		Where("invoice_batch_id = ?", batch.ID).
		Order("id ASC").
		Pluck("id", &lineIDs).Error
	if err != nil {
		return domain.Response{}, err
	}
	ids := make([]string, 0, len(lineIDs))
	for _, id := range lineIDs {
		ids = append(ids, id.String())
	}

	resp := domain.Response{
		ID:              batch.ID.String(),
		BatchNumber:     batch.BatchNumber,
		InvoiceNumber:   batch.InvoiceNumber,
		Contractor:      batch.Contractor,
		ProjectID:       batch.ProjectID,
		ProjectName:     batch.ProjectName,
		PeriodStart:     batch.PeriodStart,
		PeriodEnd:       batch.PeriodEnd,
		Status:          batch.Status,
		StatusHistory:   batch.StatusHistory,
		LineIDs:         ids,
		LineItems:       batch.LineItems,
		Subtotal:        batch.Subtotal,
		Deductions:      batch.Deductions,
		DeductionsTotal: batch.DeductionsTotal,
		Total:           batch.Total,
		Attachments:     batch.Attachments,
		PaymentTerms:    batch.PaymentTerms,
		Notes:           batch.Notes,
		CreatedBy:       batch.CreatedBy,
		CreatedAt:       batch.CreatedAt,
		UpdatedAt:       batch.UpdatedAt,
		SubmittedAt:     batch.SubmittedAt,
		SubmittedBy:     batch.SubmittedBy,
		DueDate:         batch.DueDate,
		CustomerNotes:   batch.CustomerNotes,
		PaidAmount:      batch.PaidAmount,
		PaidAt:          batch.PaidAt,
		PaymentReference: batch.PaymentReference,
	}

	readiness := batch.Readiness.Data()
	if !readiness.AssessedAt.IsZero() {
		resp.Readiness = &readiness
	}
	if len(batch.RateSnapshots) > 0 {
		var snapshots []ratecarddomain.Snapshot
		if err := json.Unmarshal(batch.RateSnapshots, &snapshots); err == nil {
			resp.RateSnapshots = snapshots
		}
	}
	return resp, nil
}

func parseLineIDs(raw []string) ([]snowflake.ID, error) {
	ids, err := parseLineIDsAllowEmpty(raw)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.ErrInvalidLineSet
	}
	return ids, nil
}

func parseLineIDsAllowEmpty(raw []string) ([]snowflake.ID, error) {
	seen := make(map[snowflake.ID]bool, len(raw))
	ids := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := linedomain.ParseID(value)
		if err != nil {
			return nil, domain.ErrInvalidLineSet
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func appendFlag(flags datatypes.JSONSlice[string], flag string) datatypes.JSONSlice[string] {
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
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
		EntityType: auditdomain.EntityInvoiceBatch,
		EntityID:   entityID.String(),
	}
}

// isDuplicateBatchNumber detects a unique-index violation on batch_number
// across drivers.
func isDuplicateBatchNumber(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "batch_number") &&
		(strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key"))
}

// lockForUpdate applies row locking on dialects that support it.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
