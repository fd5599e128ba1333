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
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nextgenfiber/fieldbill/internal/clock"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	domain "github.com/nextgenfiber/fieldbill/internal/reports/domain"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	reports domain.Service
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
	if err := db.AutoMigrate(&batchdomain.InvoiceBatch{}, &linedomain.ProductionLine{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	reports := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.Fixed(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)),
	})
	return &fixture{db: db, node: node, reports: reports}
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func (f *fixture) seedBatch(t *testing.T, number, contractor, status string, total string, due time.Time) {
	t.Helper()
	invoiceNo := "INV-" + number
	batch := batchdomain.InvoiceBatch{
		ID:            f.node.Generate(),
		BatchNumber:   number,
		InvoiceNumber: &invoiceNo,
		Contractor:    contractor,
		PeriodStart:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:        status,
		PaymentTerms:  batchdomain.TermsNet30,
		Subtotal:      mustDecimal(t, total),
		Total:         mustDecimal(t, total),
		DueDate:       &due,
		CreatedAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := f.db.Create(&batch).Error; err != nil {
		t.Fatalf("seed batch %s: %v", number, err)
	}
}

func (f *fixture) seedRejectedLine(t *testing.T, contractor string, rejectedAt time.Time, flags ...string) {
	t.Helper()
	line := linedomain.ProductionLine{
		ID:              f.node.Generate(),
		ExternalID:      f.node.Generate().String(),
		SourceSystem:    "smartsheet",
		Quantity:        mustDecimal(t, "100"),
		Unit:            "ft",
		Contractor:      contractor,
		WorkDate:        rejectedAt.AddDate(0, 0, -3),
		ActivityCode:    "FIBER",
		Status:          linedomain.StatusRejected,
		StatusChangedAt: rejectedAt,
		Flags:           datatypes.JSONSlice[string](flags),
		CreatedAt:       rejectedAt,
		UpdatedAt:       rejectedAt,
	}
	if err := f.db.Create(&line).Error; err != nil {
		t.Fatalf("seed line: %v", err)
	}
}

func TestAgingBucketsBySubmittedDueDate(t *testing.T) {
	f := newFixture(t)
	// As-of 2024-04-01: not yet due, 20 days, 45 days, 100 days past due.
	f.seedBatch(t, "FB-2024-0001", "acme", batchdomain.StatusSubmitted, "1000.00", time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	f.seedBatch(t, "FB-2024-0002", "acme", batchdomain.StatusSubmitted, "500.00", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	f.seedBatch(t, "FB-2024-0003", "acme", batchdomain.StatusSubmitted, "250.00", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
	f.seedBatch(t, "FB-2024-0004", "beta", batchdomain.StatusSubmitted, "100.00", time.Date(2023, 12, 22, 0, 0, 0, 0, time.UTC))
	// Paid and draft batches never age.
	f.seedBatch(t, "FB-2024-0005", "acme", batchdomain.StatusPaid, "9999.00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.seedBatch(t, "FB-2024-0006", "acme", batchdomain.StatusDraft, "9999.00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	report, err := f.reports.Aging(context.Background(), domain.AgingRequest{})
	if err != nil {
		t.Fatalf("aging: %v", err)
	}
	if !report.OutstandingTotal.Equal(mustDecimal(t, "1850.00")) {
		t.Fatalf("outstanding = %s, want 1850.00", report.OutstandingTotal)
	}

	byLabel := map[string]domain.AgingBucket{}
	for _, bucket := range report.Buckets {
		byLabel[bucket.Label] = bucket
	}
	if bucket := byLabel[domain.BucketCurrent]; bucket.Count != 1 || !bucket.Total.Equal(mustDecimal(t, "1000.00")) {
		t.Fatalf("CURRENT = %+v", bucket)
	}
	if bucket := byLabel[domain.BucketThirty]; bucket.Count != 1 || !bucket.Total.Equal(mustDecimal(t, "500.00")) {
		t.Fatalf("1-30 = %+v", bucket)
	}
	if bucket := byLabel[domain.BucketSixty]; bucket.Count != 1 || !bucket.Total.Equal(mustDecimal(t, "250.00")) {
		t.Fatalf("31-60 = %+v", bucket)
	}
	if bucket := byLabel[domain.BucketOverNinety]; bucket.Count != 1 || !bucket.Total.Equal(mustDecimal(t, "100.00")) {
		t.Fatalf("90+ = %+v", bucket)
	}
	if bucket := byLabel[domain.BucketNinety]; bucket.Count != 0 {
		t.Fatalf("61-90 = %+v, want empty", bucket)
	}
}

func TestAgingContractorFilterAndAsOf(t *testing.T) {
	f := newFixture(t)
	f.seedBatch(t, "FB-2024-0001", "acme", batchdomain.StatusSubmitted, "1000.00", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	f.seedBatch(t, "FB-2024-0002", "beta", batchdomain.StatusSubmitted, "500.00", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))

	report, err := f.reports.Aging(context.Background(), domain.AgingRequest{
		Contractor: "acme",
		AsOf:       "2024-03-10",
	})
	if err != nil {
		t.Fatalf("aging: %v", err)
	}
	if !report.OutstandingTotal.Equal(mustDecimal(t, "1000.00")) {
		t.Fatalf("outstanding = %s, want acme only", report.OutstandingTotal)
	}
	// Two days before the due date the batch is still current.
	for _, bucket := range report.Buckets {
		if bucket.Label == domain.BucketCurrent && bucket.Count != 1 {
			t.Fatalf("CURRENT = %+v, want the undue batch", bucket)
		}
	}

	if _, err := f.reports.Aging(context.Background(), domain.AgingRequest{AsOf: "soon"}); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("err = %v, want ErrInvalidDate", err)
	}
}

func TestRejectionsGroupsByReasonAndContractor(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	f.seedRejectedLine(t, "acme", at, "EVIDENCE_MISMATCH")
	f.seedRejectedLine(t, "acme", at, "EVIDENCE_MISMATCH")
	f.seedRejectedLine(t, "acme", at, "WRONG_QUANTITY")
	f.seedRejectedLine(t, "beta", at)

	report, err := f.reports.Rejections(context.Background(), domain.RejectionsRequest{})
	if err != nil {
		t.Fatalf("rejections: %v", err)
	}
	if report.TotalRejected != 4 {
		t.Fatalf("total = %d, want 4", report.TotalRejected)
	}
	if len(report.ByReason) == 0 || report.ByReason[0].ReasonCode != "EVIDENCE_MISMATCH" || report.ByReason[0].Count != 2 {
		t.Fatalf("top reason = %+v, want EVIDENCE_MISMATCH x2", report.ByReason)
	}
	if len(report.ByContractor) != 2 {
		t.Fatalf("contractors = %d, want 2", len(report.ByContractor))
	}
	if report.ByContractor[0].Contractor != "acme" || report.ByContractor[0].Total != 3 {
		t.Fatalf("acme = %+v", report.ByContractor[0])
	}
	// A rejection with no flag still counts.
	if report.ByContractor[1].ByReason[0].ReasonCode != "UNSPECIFIED" {
		t.Fatalf("beta reasons = %+v", report.ByContractor[1].ByReason)
	}
}

func TestRejectionsDateWindow(t *testing.T) {
	f := newFixture(t)
	f.seedRejectedLine(t, "acme", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), "EVIDENCE_MISMATCH")
	f.seedRejectedLine(t, "acme", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), "EVIDENCE_MISMATCH")

	report, err := f.reports.Rejections(context.Background(), domain.RejectionsRequest{
		From: "2024-03-01",
		To:   "2024-03-31",
	})
	if err != nil {
		t.Fatalf("rejections: %v", err)
	}
	if report.TotalRejected != 1 {
		t.Fatalf("total = %d, want only the March rejection", report.TotalRejected)
	}
}
