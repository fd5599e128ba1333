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
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	ratecardservice "github.com/nextgenfiber/fieldbill/internal/ratecard/service"
	domain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    clock.Clock
	engine domain.Service
	rates  ratecarddomain.Service
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
		&linedomain.ProductionLine{},
		&batchdomain.InvoiceBatch{},
		&ratecarddomain.RateCard{},
		&ratecarddomain.RateCardVersion{},
		&ratecarddomain.RateEntry{},
		&auditdomain.AuditEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	authz := authorization.NewService(db, zap.NewNop(), enforcer)
	clk := clock.Fixed(time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(db),
	})
	cfg := config.Config{Billing: config.Billing{
		PassingThreshold:  80,
		TimelinessSLADays: 7,
		RuleTimeout:       10 * time.Second,
		RateCacheTTL:      time.Minute,
	}}
	rates := ratecardservice.NewService(ratecardservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Authz: authz,
		Audit: auditSvc,
		Cfg:   cfg,
	})
	engine := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Rates: rates,
		Cfg:   cfg,
	})
	return &fixture{db: db, node: node, clk: clk, engine: engine, rates: rates}
}

func adminContext() context.Context {
	return auditcontext.WithActor(context.Background(), auditcontext.Actor{
		Type: auditcontext.ActorTypeUser,
		ID:   "admin-1",
		Role: authorization.RoleBillingAdmin,
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

func (f *fixture) seedLine(t *testing.T, mutate func(*linedomain.ProductionLine)) linedomain.ProductionLine {
	t.Helper()
	now := f.clk.Now()
	line := linedomain.ProductionLine{
		ID:                  f.node.Generate(),
		ExternalID:          "SS-" + f.node.Generate().String(),
		SourceSystem:        "smartsheet",
		Quantity:            mustDecimal(t, "1250"),
		Unit:                "ft",
		Contractor:          "acme",
		WorkDate:            time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ActivityCode:        "FIBER",
		BillingLineItemCode: "FIBER_PLACEMENT",
		Status:              linedomain.StatusReadyToInvoice,
		StatusChangedAt:     time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		HasRequiredEvidence: true,
		EvidenceCount:       2,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if mutate != nil {
		mutate(&line)
	}
	if err := f.db.Create(&line).Error; err != nil {
		t.Fatalf("seed line: %v", err)
	}
	return line
}

func (f *fixture) runOne(t *testing.T, line linedomain.ProductionLine) domain.EntityReport {
	t.Helper()
	resp, err := f.engine.Run(context.Background(), domain.RunRequest{
		EntityType: domain.EntityProductionLine,
		EntityIDs:  []string{line.ID.String()},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(resp.Reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(resp.Reports))
	}
	return resp.Reports[0]
}

func resultFor(report domain.EntityReport, ruleID string) (domain.Result, bool) {
	for _, result := range report.Results {
		if result.RuleID == ruleID {
			return result, true
		}
	}
	return domain.Result{}, false
}

func TestCleanLinePassesAllRules(t *testing.T) {
	f := newFixture(t)
	line := f.seedLine(t, nil)

	report := f.runOne(t, line)
	if !report.CanProceed {
		t.Fatalf("clean line blocked: %+v", report.Results)
	}
	if report.Score.Overall != 100 {
		t.Fatalf("score = %v, want 100", report.Score.Overall)
	}
	if !report.Score.IsPassing {
		t.Fatal("score not passing")
	}
}

func TestMissingEvidenceFailsErrorRule(t *testing.T) {
	f := newFixture(t)
	line := f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.HasRequiredEvidence = false
	})

	report := f.runOne(t, line)
	if report.CanProceed {
		t.Fatal("line without evidence must not proceed")
	}
	result, ok := resultFor(report, "required-evidence")
	if !ok || result.Passed {
		t.Fatalf("required-evidence result = %+v", result)
	}
	if result.Severity != domain.SeverityError {
		t.Fatalf("severity = %s, want ERROR", result.Severity)
	}
	// Evidence is 35% of the weighted score.
	if report.Score.Evidence != 0 {
		t.Fatalf("evidence sub-score = %v, want 0", report.Score.Evidence)
	}
	if report.Score.IsPassing {
		t.Fatal("score should fall below the 80 threshold")
	}
}

func TestWarningsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	// Status changed 20 days after the work date: timeliness WARNING.
	line := f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.StatusChangedAt = time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC)
	})

	report := f.runOne(t, line)
	result, ok := resultFor(report, "timeliness")
	if !ok || result.Passed {
		t.Fatalf("timeliness result = %+v", result)
	}
	if !report.CanProceed {
		t.Fatal("WARNING failures must not block")
	}
}

func TestStaleRateCardVersionWarns(t *testing.T) {
	f := newFixture(t)
	card, err := f.rates.Create(adminContext(), ratecarddomain.CreateRequest{
		Name:          "Acme 2024",
		Contractor:    "acme",
		EffectiveFrom: "2024-01-01",
		Entries: []ratecarddomain.EntryInput{
			{LineItemCode: "FIBER_PLACEMENT", Unit: "ft", Rate: mustDecimal(t, "0.40")},
		},
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := f.rates.CreateVersion(adminContext(), ratecarddomain.CreateVersionRequest{
		RateCardID:    card.ID,
		EffectiveFrom: "2024-01-18",
		Entries: []ratecarddomain.EntryInput{
			{LineItemCode: "FIBER_PLACEMENT", Unit: "ft", Rate: mustDecimal(t, "0.42")},
		},
	}); err != nil {
		t.Fatalf("create version: %v", err)
	}

	staleVersion := 1
	line := f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.RateCardVersion = &staleVersion
	})

	report := f.runOne(t, line)
	result, ok := resultFor(report, "rate-card-currency")
	if !ok {
		t.Fatal("rate-card-currency did not apply")
	}
	if result.Passed {
		t.Fatal("stale version must fail the currency rule")
	}
	if result.Severity != domain.SeverityWarning {
		t.Fatalf("severity = %s, want WARNING", result.Severity)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	f := newFixture(t)
	line := f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.HasRequiredEvidence = false
	})

	first := f.runOne(t, line)
	second := f.runOne(t, line)
	if len(first.Results) != len(second.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.RuleID != b.RuleID || a.Passed != b.Passed || a.Severity != b.Severity {
			t.Fatalf("run not deterministic at %d: %+v vs %+v", i, a, b)
		}
	}
	if first.Score != second.Score {
		t.Fatalf("scores differ: %+v vs %+v", first.Score, second.Score)
	}
}

func TestRunPersistsComplianceScore(t *testing.T) {
	f := newFixture(t)
	line := f.seedLine(t, nil)

	report := f.runOne(t, line)

	var stored linedomain.ProductionLine
	if err := f.db.First(&stored, "id = ?", line.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.ComplianceScore == nil || *stored.ComplianceScore != report.Score.Overall {
		t.Fatalf("stored score = %v, want %v", stored.ComplianceScore, report.Score.Overall)
	}
}

func TestRunRejectsUnknownRuleAndEntityType(t *testing.T) {
	f := newFixture(t)
	line := f.seedLine(t, nil)

	_, err := f.engine.Run(context.Background(), domain.RunRequest{
		EntityType: domain.EntityProductionLine,
		EntityIDs:  []string{line.ID.String()},
		RuleIDs:    []string{"no-such-rule"},
	})
	if !errors.Is(err, domain.ErrUnknownRule) {
		t.Fatalf("err = %v, want ErrUnknownRule", err)
	}

	_, err = f.engine.Run(context.Background(), domain.RunRequest{
		EntityType: "widget",
		EntityIDs:  []string{line.ID.String()},
	})
	if !errors.Is(err, domain.ErrUnknownEntityType) {
		t.Fatalf("err = %v, want ErrUnknownEntityType", err)
	}
}

func TestBatchEvaluationFlagsMemberFailures(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	batch := batchdomain.InvoiceBatch{
		ID:           f.node.Generate(),
		BatchNumber:  "FB-2024-0001",
		Contractor:   "acme",
		PeriodStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:       batchdomain.StatusDraft,
		PaymentTerms: batchdomain.TermsNet30,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.db.Create(&batch).Error; err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	batchID := batch.ID
	f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.InvoiceBatchID = &batchID
	})
	f.seedLine(t, func(l *linedomain.ProductionLine) {
		l.InvoiceBatchID = &batchID
		l.HasRequiredEvidence = false
	})

	resp, err := f.engine.Run(context.Background(), domain.RunRequest{
		EntityType: domain.EntityInvoiceBatch,
		EntityIDs:  []string{batch.ID.String()},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	report := resp.Reports[0]
	if report.CanProceed {
		t.Fatal("batch with a failing member line must not proceed")
	}
	for _, ruleID := range []string{"lines-error-free", "evidence-verified"} {
		result, ok := resultFor(report, ruleID)
		if !ok || result.Passed {
			t.Fatalf("%s = %+v, want failed", ruleID, result)
		}
	}
	if result, ok := resultFor(report, "attachment-present"); !ok || result.Passed {
		t.Fatalf("attachment-present = %+v, want failed WARNING", result)
	}
}
