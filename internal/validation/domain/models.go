// Package domain contains the validation rule and scoring types.
package domain

import (
	"context"
	"errors"
	"time"
)

// Severities of a validation result.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
)

// Scoring categories. The compliance score is a weighted average of the
// passed-fraction per category.
const (
	CategoryEvidence     = "evidence"
	CategoryCompleteness = "completeness"
	CategoryConsistency  = "consistency"
	CategoryTimeliness   = "timeliness"
)

// CategoryWeights used by the compliance score.
var CategoryWeights = map[string]float64{
	CategoryEvidence:     0.35,
	CategoryCompleteness: 0.25,
	CategoryConsistency:  0.25,
	CategoryTimeliness:   0.15,
}

// Entity types the engine evaluates.
const (
	EntityProductionLine = "production_line"
	EntityInvoiceBatch   = "invoice_batch"
)

// Result is one rule's verdict on one entity.
type Result struct {
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Passed      bool      `json:"passed"`
	Message     string    `json:"message,omitempty"`
	Expected    string    `json:"expected,omitempty"`
	Actual      string    `json:"actual,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ComplianceScore is the weighted 0-100 measure derived from rule results.
type ComplianceScore struct {
	Overall          float64 `json:"overall"`
	Evidence         float64 `json:"evidence"`
	Completeness     float64 `json:"completeness"`
	Consistency      float64 `json:"consistency"`
	Timeliness       float64 `json:"timeliness"`
	PassingThreshold float64 `json:"passing_threshold"`
	IsPassing        bool    `json:"is_passing"`
}

// EntityReport collects results and the derived score for one entity.
type EntityReport struct {
	EntityID string          `json:"entity_id"`
	Results  []Result        `json:"results"`
	Score    ComplianceScore `json:"compliance_score"`
	// CanProceed is false when any ERROR-severity rule failed. WARNING and
	// INFO failures never block a transition.
	CanProceed bool `json:"can_proceed"`
}

// RunRequest names the entities and optionally a rule subset to evaluate.
type RunRequest struct {
	EntityType string   `json:"entity_type"`
	EntityIDs  []string `json:"entity_ids"`
	RuleIDs    []string `json:"rule_ids"`
}

// RunResponse is the per-entity outcome of a validation run.
type RunResponse struct {
	EntityType string         `json:"entity_type"`
	Reports    []EntityReport `json:"reports"`
}

// Service evaluates registered rules. Rules are pure: running twice on
// unchanged input yields identical results.
type Service interface {
	Run(ctx context.Context, req RunRequest) (RunResponse, error)
	// Rules lists the registered rule ids for an entity type.
	Rules(entityType string) []string
}

var (
	ErrUnknownEntityType = errors.New("unknown_entity_type")
	ErrUnknownRule       = errors.New("unknown_rule")
	ErrNoEntities        = errors.New("no_entities")
	ErrRunTimeout        = errors.New("validation_timeout")
)
