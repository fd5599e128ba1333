package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics tracks reconciliation throughput and outcomes.
type BillingMetrics struct {
	linesIngested      *prometheus.CounterVec
	lineTransitions    *prometheus.CounterVec
	batchTransitions   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	auditWrites        *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the process-wide billing metrics.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig initializes the billing metrics once with service labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest clears the singleton between test registries.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fieldbill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	linesIngested := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "fieldbill_production_lines_ingested_total",
			Help:        "Production lines accepted from field sources.",
			ConstLabels: constLabels,
		},
		[]string{"source_system", "result"}, // result: created | duplicate
	)

	lineTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "fieldbill_production_line_transitions_total",
			Help:        "Production line status transitions by target status.",
			ConstLabels: constLabels,
		},
		[]string{"to_status", "result"}, // result: ok | illegal | failed
	)

	batchTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "fieldbill_invoice_batch_transitions_total",
			Help:        "Invoice batch status transitions by target status.",
			ConstLabels: constLabels,
		},
		[]string{"to_status", "result"},
	)

	validationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "fieldbill_validation_rule_failures_total",
			Help:        "Validation rule failures by rule and severity.",
			ConstLabels: constLabels,
		},
		[]string{"rule", "severity"},
	)

	auditWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "fieldbill_audit_events_total",
			Help:        "Audit trail writes by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // result: success | failure_record
	)

	registerer.MustRegister(
		linesIngested,
		lineTransitions,
		batchTransitions,
		validationFailures,
		auditWrites,
	)

	return &BillingMetrics{
		linesIngested:      linesIngested,
		lineTransitions:    lineTransitions,
		batchTransitions:   batchTransitions,
		validationFailures: validationFailures,
		auditWrites:        auditWrites,
	}
}

// IncLineIngested records an ingest attempt.
func (m *BillingMetrics) IncLineIngested(sourceSystem, result string) {
	if m == nil {
		return
	}
	m.linesIngested.WithLabelValues(sourceSystem, result).Inc()
}

// IncLineTransition records a line transition outcome.
func (m *BillingMetrics) IncLineTransition(toStatus, result string) {
	if m == nil {
		return
	}
	m.lineTransitions.WithLabelValues(toStatus, result).Inc()
}

// IncBatchTransition records a batch transition outcome.
func (m *BillingMetrics) IncBatchTransition(toStatus, result string) {
	if m == nil {
		return
	}
	m.batchTransitions.WithLabelValues(toStatus, result).Inc()
}

// IncValidationFailure records a failed rule evaluation.
func (m *BillingMetrics) IncValidationFailure(rule, severity string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(rule, severity).Inc()
}

// IncAuditWrite records an audit trail write.
func (m *BillingMetrics) IncAuditWrite(result string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(result).Inc()
}
