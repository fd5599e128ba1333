package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	auditrepository "github.com/nextgenfiber/fieldbill/internal/audit/repository"
	auditservice "github.com/nextgenfiber/fieldbill/internal/audit/service"
	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/config"
	"github.com/nextgenfiber/fieldbill/internal/events"
	domain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	ratecardservice "github.com/nextgenfiber/fieldbill/internal/ratecard/service"
)

type fixture struct {
	db    *gorm.DB
	lines domain.Service
	rates ratecarddomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.ProductionLine{},
		&ratecarddomain.RateCard{},
		&ratecarddomain.RateCardVersion{},
		&ratecarddomain.RateEntry{},
		&auditdomain.AuditEvent{},
		&events.BillingEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	authz := authorization.NewService(db, zap.NewNop(), enforcer)
	clk := clock.Fixed(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(db),
	})
	rates := ratecardservice.NewService(ratecardservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Authz: authz,
		Audit: auditSvc,
		Cfg:   config.Config{Billing: config.Billing{RateCacheTTL: time.Minute}},
	})
	lines := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Authz:  authz,
		Audit:  auditSvc,
		Rates:  rates,
		Outbox: events.NewOutbox(db, node),
	})
	return &fixture{db: db, lines: lines, rates: rates}
}

func adminContext() context.Context {
	return auditcontext.WithActor(context.Background(), auditcontext.Actor{
		Type: auditcontext.ActorTypeUser,
		ID:   "admin-1",
		Role: authorization.RoleBillingAdmin,
	})
}

func userContext() context.Context {
	return auditcontext.WithActor(context.Background(), auditcontext.Actor{
		Type: auditcontext.ActorTypeUser,
		ID:   "user-1",
		Role: authorization.RoleBillingUser,
	})
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func (f *fixture) seedRateCard(t *testing.T) {
	t.Helper()
	_, err := f.rates.Create(adminContext(), ratecarddomain.CreateRequest{
		Name:          "Acme Fiber 2024",
		Contractor:    "acme",
		EffectiveFrom: "2024-01-01",
		Entries: []ratecarddomain.EntryInput{
			{LineItemCode: "FIBER_PLACEMENT", Unit: "ft", Rate: mustDecimal(t, "0.42")},
		},
	})
	if err != nil {
		t.Fatalf("seed rate card: %v", err)
	}
}

func (f *fixture) ingestLine(t *testing.T, externalID, quantity string) *domain.Response {
	t.Helper()
	mutation, err := f.lines.Ingest(userContext(), domain.IngestRequest{
		ExternalID:          externalID,
		SourceSystem:        "smartsheet",
		Quantity:            mustDecimal(t, quantity),
		Unit:                "ft",
		Contractor:          "acme",
		WorkDate:            "2024-01-15",
		ActivityCode:        "FIBER",
		EvidenceCount:       2,
		HasRequiredEvidence: true,
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", externalID, err)
	}
	return mutation.Line
}

func (f *fixture) makeReady(t *testing.T, lineID string) *domain.Response {
	t.Helper()
	if _, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: lineID, NewStatus: domain.StatusReviewed}); err != nil {
		t.Fatalf("transition to REVIEWED: %v", err)
	}
	mutation, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: lineID, NewStatus: domain.StatusReadyToInvoice})
	if err != nil {
		t.Fatalf("transition to READY_TO_INVOICE: %v", err)
	}
	return mutation.Line
}

func TestIngestMapsActivityCodeAndStartsPending(t *testing.T) {
	f := newFixture(t)

	line := f.ingestLine(t, "SS-1001", "1250")
	if line.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", line.Status)
	}
	if line.BillingLineItemCode != "FIBER_PLACEMENT" {
		t.Fatalf("billing code = %q, want FIBER_PLACEMENT", line.BillingLineItemCode)
	}
	if line.AppliedRate != nil {
		t.Fatal("rate must not be resolved at ingest time")
	}
}

func TestIngestIsIdempotentOnExternalID(t *testing.T) {
	f := newFixture(t)
	first := f.ingestLine(t, "SS-1001", "1250")

	mutation, err := f.lines.Ingest(userContext(), domain.IngestRequest{
		ExternalID:   "SS-1001",
		SourceSystem: "smartsheet",
		Quantity:     mustDecimal(t, "999"),
		Contractor:   "acme",
		WorkDate:     "2024-01-15",
		ActivityCode: "FIBER",
	})
	if err != nil {
		t.Fatalf("repeat ingest: %v", err)
	}
	if !mutation.Duplicate {
		t.Fatal("repeat ingest not flagged as duplicate")
	}
	if mutation.Line.ID != first.ID {
		t.Fatalf("duplicate returned id %s, want %s", mutation.Line.ID, first.ID)
	}
	if !mutation.Line.Quantity.Equal(mustDecimal(t, "1250")) {
		t.Fatal("duplicate ingest overwrote the stored quantity")
	}

	var count int64
	if err := f.db.Model(&domain.ProductionLine{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("line rows = %d, want 1", count)
	}
}

func TestIngestUnknownActivityCodeFlagsLine(t *testing.T) {
	f := newFixture(t)

	mutation, err := f.lines.Ingest(userContext(), domain.IngestRequest{
		ExternalID:   "SS-2001",
		SourceSystem: "smartsheet",
		Quantity:     mustDecimal(t, "4"),
		Unit:         "each",
		Contractor:   "acme",
		WorkDate:     "2024-01-15",
		ActivityCode: "MYSTERY",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if mutation.Line.BillingLineItemCode != "" {
		t.Fatal("unknown activity code must not map a billing code")
	}
	found := false
	for _, flag := range mutation.Line.Flags {
		if flag == "UNMAPPED_ACTIVITY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("flags = %v, want UNMAPPED_ACTIVITY", mutation.Line.Flags)
	}
}

func TestTransitionToReadySnapshotsRate(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	line := f.ingestLine(t, "SS-1001", "1250")

	ready := f.makeReady(t, line.ID)
	if ready.Status != domain.StatusReadyToInvoice {
		t.Fatalf("status = %s", ready.Status)
	}
	if ready.AppliedRate == nil || !ready.AppliedRate.Equal(mustDecimal(t, "0.42")) {
		t.Fatalf("applied rate = %v, want 0.42", ready.AppliedRate)
	}
	if ready.ExtendedAmount == nil || !ready.ExtendedAmount.Equal(mustDecimal(t, "525.00")) {
		t.Fatalf("extended amount = %v, want 525.00", ready.ExtendedAmount)
	}
	if ready.RateCardVersion == nil || *ready.RateCardVersion != 1 {
		t.Fatalf("rate card version = %v, want 1", ready.RateCardVersion)
	}
}

func TestTransitionWithoutRateLeavesLineUnchanged(t *testing.T) {
	f := newFixture(t)
	line := f.ingestLine(t, "SS-1001", "1250")

	if _, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: line.ID, NewStatus: domain.StatusReviewed}); err != nil {
		t.Fatalf("review: %v", err)
	}
	_, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: line.ID, NewStatus: domain.StatusReadyToInvoice})
	if !errors.Is(err, ratecarddomain.ErrRateNotFound) {
		t.Fatalf("err = %v, want ErrRateNotFound", err)
	}

	stored, err := f.lines.GetByID(context.Background(), line.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusReviewed {
		t.Fatalf("status = %s, want REVIEWED after failed pricing", stored.Status)
	}
	if stored.AppliedRate != nil {
		t.Fatal("failed transition must not snapshot a rate")
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	f := newFixture(t)
	line := f.ingestLine(t, "SS-1001", "1250")

	_, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: line.ID, NewStatus: domain.StatusReadyToInvoice})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition for PENDING→READY_TO_INVOICE", err)
	}
	_, err = f.lines.Transition(userContext(), domain.TransitionRequest{LineID: line.ID, NewStatus: domain.StatusInvoiced})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition for direct INVOICED", err)
	}
}

func TestOverrideRateForbiddenForRegularUser(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	line := f.ingestLine(t, "SS-1001", "1250")
	ready := f.makeReady(t, line.ID)

	var before int64
	if err := f.db.Model(&auditdomain.AuditEvent{}).Count(&before).Error; err != nil {
		t.Fatalf("count: %v", err)
	}

	_, err := f.lines.OverrideRate(userContext(), domain.OverrideRateRequest{
		LineID: line.ID,
		Rate:   mustDecimal(t, "0.99"),
		Reason: "renegotiated",
	})
	if !errors.Is(err, authorization.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	stored, err := f.lines.GetByID(context.Background(), line.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.ExtendedAmount.Equal(*ready.ExtendedAmount) {
		t.Fatal("extended amount changed despite forbidden override")
	}

	// Exactly one additional record: the failure entry.
	var after int64
	if err := f.db.Model(&auditdomain.AuditEvent{}).Count(&after).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if after != before+1 {
		t.Fatalf("audit rows grew by %d, want 1 failure record", after-before)
	}
	var failure auditdomain.AuditEvent
	err = f.db.Where("event_type = ? AND success = ?", "production_line.override_rate", false).
		First(&failure).Error
	if err != nil {
		t.Fatalf("failure record missing: %v", err)
	}
}

func TestOverrideRateRecomputesExtendedAmount(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	line := f.ingestLine(t, "SS-1001", "1250")
	f.makeReady(t, line.ID)

	mutation, err := f.lines.OverrideRate(adminContext(), domain.OverrideRateRequest{
		LineID: line.ID,
		Rate:   mustDecimal(t, "0.50"),
		Reason: "contract amendment 7",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !mutation.Line.ExtendedAmount.Equal(mustDecimal(t, "625.00")) {
		t.Fatalf("extended amount = %s, want 625.00", mutation.Line.ExtendedAmount)
	}
	if mutation.AuditEventID == "" {
		t.Fatal("override did not report its audit event")
	}

	_, err = f.lines.OverrideRate(adminContext(), domain.OverrideRateRequest{
		LineID: line.ID,
		Rate:   mustDecimal(t, "0"),
		Reason: "zeroed",
	})
	if !errors.Is(err, domain.ErrInvalidRate) {
		t.Fatalf("err = %v, want ErrInvalidRate", err)
	}
}

func TestRejectTransitionsAndFlags(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	line := f.ingestLine(t, "SS-1001", "1250")
	f.makeReady(t, line.ID)

	mutation, err := f.lines.Reject(userContext(), domain.RejectRequest{
		LineID:     line.ID,
		ReasonCode: "EVIDENCE_MISMATCH",
		Details:    "photo shows wrong pole",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if mutation.Line.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", mutation.Line.Status)
	}

	// Corrected lines return to PENDING.
	back, err := f.lines.Transition(userContext(), domain.TransitionRequest{LineID: line.ID, NewStatus: domain.StatusPending})
	if err != nil {
		t.Fatalf("rejected→pending: %v", err)
	}
	if back.Line.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", back.Line.Status)
	}
}

func TestUpdateQuantityResnapshotsExtendedAmount(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	line := f.ingestLine(t, "SS-1001", "1250")
	f.makeReady(t, line.ID)

	quantity := mustDecimal(t, "1500")
	mutation, err := f.lines.Update(userContext(), domain.UpdateRequest{
		LineID:   line.ID,
		Quantity: &quantity,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !mutation.Line.ExtendedAmount.Equal(mustDecimal(t, "630.00")) {
		t.Fatalf("extended amount = %s, want 630.00", mutation.Line.ExtendedAmount)
	}

	stale := mutation.Line.UpdatedAt.Add(-time.Hour)
	quantity2 := mustDecimal(t, "1600")
	_, err = f.lines.Update(userContext(), domain.UpdateRequest{
		LineID:      line.ID,
		Quantity:    &quantity2,
		IfUpdatedAt: &stale,
	})
	if !errors.Is(err, domain.ErrStaleUpdate) {
		t.Fatalf("err = %v, want ErrStaleUpdate", err)
	}
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	f.seedRateCard(t)
	a := f.ingestLine(t, "SS-1001", "1250")
	f.ingestLine(t, "SS-1002", "1500")
	f.makeReady(t, a.ID)

	resp, err := f.lines.List(context.Background(), domain.ListRequest{
		Contractor: "acme",
		Statuses:   []string{domain.StatusReadyToInvoice},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].ID != a.ID {
		t.Fatalf("filtered list = %d lines, want just the ready one", len(resp.Lines))
	}

	resp, err = f.lines.List(context.Background(), domain.ListRequest{NotInvoiced: true})
	if err != nil {
		t.Fatalf("list notInvoiced: %v", err)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("notInvoiced = %d lines, want 2", len(resp.Lines))
	}
	if resp.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", resp.TotalCount)
	}
}
