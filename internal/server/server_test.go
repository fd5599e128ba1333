package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	auditrepository "github.com/nextgenfiber/fieldbill/internal/audit/repository"
	auditservice "github.com/nextgenfiber/fieldbill/internal/audit/service"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/config"
	"github.com/nextgenfiber/fieldbill/internal/events"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	batchservice "github.com/nextgenfiber/fieldbill/internal/invoicebatch/service"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	lineservice "github.com/nextgenfiber/fieldbill/internal/productionline/service"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	ratecardservice "github.com/nextgenfiber/fieldbill/internal/ratecard/service"
	reportsservice "github.com/nextgenfiber/fieldbill/internal/reports/service"
	validationservice "github.com/nextgenfiber/fieldbill/internal/validation/service"
)

func newTestEngine(t *testing.T) *gin.Engine {
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
		&events.BillingEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	authz := authorization.NewService(db, zap.NewNop(), enforcer)
	clk := clock.Fixed(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Billing: config.Billing{
		PassingThreshold:  80,
		TimelinessSLADays: 30,
		RuleTimeout:       10 * time.Second,
		RateCacheTTL:      time.Minute,
	}}

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
		Cfg:   cfg,
	})
	outbox := events.NewOutbox(db, node)
	lines := lineservice.NewService(lineservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Authz:  authz,
		Audit:  auditSvc,
		Rates:  rates,
		Outbox: outbox,
	})
	validator := validationservice.NewService(validationservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Rates: rates,
		Cfg:   cfg,
	})
	batches := batchservice.NewService(batchservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Authz:     authz,
		Audit:     auditSvc,
		Rates:     rates,
		Validator: validator,
		Outbox:    outbox,
	})
	reports := reportsservice.NewService(reportsservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
	})

	srv := NewServer(ServerParam{
		Log:       zap.NewNop(),
		DB:        db,
		Lines:     lines,
		Batches:   batches,
		RateCards: rates,
		Validator: validator,
		Audit:     auditSvc,
		Reports:   reports,
	})
	return NewEngine(config.Config{}, srv, nil)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(actorIDHeader, "user-1")
	req.Header.Set(actorRoleHeader, role)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %q", rec.Body.String())
	}
	code, _ := envelope["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestIngestReturnsMutationEnvelope(t *testing.T) {
	engine := newTestEngine(t)

	seedCard(t, engine)
	rec := doJSON(t, engine, http.MethodPost, "/billing/production-lines", authorization.RoleBillingUser, map[string]any{
		"external_id":           "SS-9001",
		"source_system":         "smartsheet",
		"quantity":              "1250",
		"unit":                  "ft",
		"contractor":            "acme",
		"work_date":             "2024-01-15",
		"activity_code":         "FIBER",
		"evidence_count":        2,
		"has_required_evidence": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	if id, _ := body["audit_event_id"].(string); id == "" {
		t.Fatalf("missing audit_event_id in %v", body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["id"] == "" {
		t.Fatalf("missing line in %v", body)
	}

	// The actor headers must flow through to the audit trail.
	lineID, _ := data["id"].(string)
	audit := doJSON(t, engine, http.MethodGet, "/billing/audit-events?entity_id="+lineID, authorization.RoleBillingAdmin, nil)
	if audit.Code != http.StatusOK {
		t.Fatalf("audit status = %d, body %s", audit.Code, audit.Body.String())
	}
	var listed struct {
		Events []struct {
			ActorID   string `json:"actor_id"`
			EventType string `json:"event_type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(audit.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode audit list: %v", err)
	}
	if len(listed.Events) == 0 {
		t.Fatal("expected an ingest audit event")
	}
	if listed.Events[0].ActorID != "user-1" {
		t.Fatalf("actor_id = %s, want user-1", listed.Events[0].ActorID)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/billing/production-lines/123456789", authorization.RoleBillingUser, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != CodeNotFound {
		t.Fatalf("error code = %s, want %s", code, CodeNotFound)
	}
}

func TestRateCardCreateRequiresAdminRole(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/billing/rate-cards", authorization.RoleBillingUser, map[string]any{
		"name":           "Acme Fiber 2024",
		"contractor":     "acme",
		"effective_from": "2024-01-01",
		"entries": []map[string]any{
			{"line_item_code": "FIBER_PLACEMENT", "unit": "ft", "rate": "0.42"},
		},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != CodeForbidden {
		t.Fatalf("error code = %s, want %s", code, CodeForbidden)
	}
}

func TestCreateAuditEventRejectsMissingType(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/billing/audit-events", authorization.RoleBillingUser, map[string]any{
		"entity_type": "production_line",
		"entity_id":   "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAgingReportRejectsBadDate(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/billing/reports/aging?as_of=soon", authorization.RoleBillingUser, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != CodeValidationFailed {
		t.Fatalf("error code = %s, want %s", code, CodeValidationFailed)
	}
}

func TestNotReadyEnvelopeListsFailedChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/billing/invoice-batches/1/submit", nil)

	AbortWithError(c, &batchdomain.NotReadyError{Checklist: []batchdomain.ChecklistItem{
		{Name: "evidence-verified", Required: true, Detail: "2 lines missing evidence"},
		{Name: "attachment-present"},
	}})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if code := errorCode(t, rec); code != CodeNotReady {
		t.Fatalf("error code = %s, want %s", code, CodeNotReady)
	}
	body := decodeBody(t, rec)
	envelope := body["error"].(map[string]any)
	details, ok := envelope["details"].([]any)
	if !ok || len(details) != 2 {
		t.Fatalf("details = %v, want the two failed checks", envelope["details"])
	}
	if details[0] != "evidence-verified: 2 lines missing evidence" {
		t.Fatalf("details[0] = %v", details[0])
	}
}

func seedCard(t *testing.T, engine *gin.Engine) {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/billing/rate-cards", authorization.RoleBillingAdmin, map[string]any{
		"name":           "Acme Fiber 2024",
		"contractor":     "acme",
		"effective_from": "2024-01-01",
		"entries": []map[string]any{
			{"line_item_code": "FIBER_PLACEMENT", "unit": "ft", "rate": "0.42"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed rate card: %d %s", rec.Code, rec.Body.String())
	}
}
