package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/nextgenfiber/fieldbill/pkg/db/pagination"
)

// IngestRequest carries one raw field record into the ledger.
type IngestRequest struct {
	ExternalID   string           `json:"external_id"`
	SourceSystem string           `json:"source_system"`
	JobID        string           `json:"job_id"`
	Description  string           `json:"description"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	ProjectID    string           `json:"project_id"`
	ProjectName  string           `json:"project_name"`
	Contractor   string           `json:"contractor"`
	CrewID       string           `json:"crew_id"`
	CrewName     string           `json:"crew_name"`
	WorkDate     string           `json:"work_date"`
	CompletedAt  *string          `json:"completed_at"`
	Latitude     *float64         `json:"latitude"`
	Longitude    *float64         `json:"longitude"`
	Address      string           `json:"address"`
	PoleID       *string          `json:"pole_id"`
	WorkType     string           `json:"work_type"`
	ActivityCode string           `json:"activity_code"`
	EvidenceCount       int  `json:"evidence_count"`
	HasRequiredEvidence bool `json:"has_required_evidence"`
}

// TransitionRequest moves a line along the state machine.
type TransitionRequest struct {
	LineID    string `json:"-"`
	NewStatus string `json:"status"`
	Reason    string `json:"reason"`
}

// OverrideRateRequest replaces the applied rate on a line. Privileged.
type OverrideRateRequest struct {
	LineID string          `json:"-"`
	Rate   decimal.Decimal `json:"rate"`
	Reason string          `json:"reason"`
}

// RejectRequest moves a line to REJECTED and optionally raises a task.
type RejectRequest struct {
	LineID     string `json:"-"`
	ReasonCode string `json:"reason"`
	Details    string `json:"details"`
	CreateTask bool   `json:"create_task"`
	AssignTo   string `json:"assign_to"`
}

// UpdateRequest is the PATCH surface: evidence/mapping edits while the line
// is still mutable.
type UpdateRequest struct {
	LineID              string           `json:"-"`
	Description         *string          `json:"description"`
	Quantity            *decimal.Decimal `json:"quantity"`
	BillingLineItemCode *string          `json:"billing_line_item_code"`
	EvidenceCount       *int             `json:"evidence_count"`
	HasRequiredEvidence *bool            `json:"has_required_evidence"`
	// Optimistic concurrency: reject the update when the stored line changed
	// since this timestamp.
	IfUpdatedAt *time.Time `json:"if_updated_at"`
}

// ListRequest filters the ledger listing.
type ListRequest struct {
	Project            string   `form:"project"`
	Contractor         string   `form:"contractor"`
	Crew               string   `form:"crew"`
	Statuses           []string `form:"status"`
	WorkDateFrom       string   `form:"work_date_from"`
	WorkDateTo         string   `form:"work_date_to"`
	HasEvidence        *bool    `form:"has_evidence"`
	ComplianceScoreMin *float64 `form:"compliance_score_min"`
	NotInvoiced        bool     `form:"not_invoiced"`
	Search             string   `form:"search"`
	pagination.Pagination
}

// ListResponse is a page of production lines.
type ListResponse struct {
	pagination.PageInfo
	Lines []Response `json:"production_lines"`
}

// Response is the JSON shape of a production line.
type Response struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id"`
	SourceSystem string          `json:"source_system"`
	JobID        string          `json:"job_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	ProjectID    string          `json:"project_id,omitempty"`
	ProjectName  string          `json:"project_name,omitempty"`
	Contractor   string          `json:"contractor"`
	CrewID       string          `json:"crew_id,omitempty"`
	CrewName     string          `json:"crew_name,omitempty"`
	WorkDate     time.Time       `json:"work_date"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Address      string          `json:"address,omitempty"`
	PoleID       *string         `json:"pole_id,omitempty"`
	WorkType     string          `json:"work_type,omitempty"`
	ActivityCode string          `json:"activity_code"`

	Status          string    `json:"status"`
	StatusChangedAt time.Time `json:"status_changed_at"`

	EvidenceCount       int  `json:"evidence_count"`
	HasRequiredEvidence bool `json:"has_required_evidence"`

	BillingLineItemCode string           `json:"billing_line_item_code,omitempty"`
	BillingDescription  string           `json:"billing_description,omitempty"`
	RateCardID          string           `json:"rate_card_id,omitempty"`
	RateCardVersion     *int             `json:"rate_card_version,omitempty"`
	AppliedRate         *decimal.Decimal `json:"applied_rate,omitempty"`
	ExtendedAmount      *decimal.Decimal `json:"extended_amount,omitempty"`

	ComplianceScore *float64 `json:"compliance_score,omitempty"`
	Flags           []string `json:"flags,omitempty"`
	InvoiceBatchID  string   `json:"invoice_batch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mutation pairs the updated line with the audit event it produced.
type Mutation struct {
	Line         *Response `json:"line"`
	AuditEventID string    `json:"audit_event_id"`
	// TaskID is set when a rejection raised a follow-up task.
	TaskID string `json:"task_id,omitempty"`
	// Duplicate is set when an ingest matched an existing record.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Service is the production line ledger.
type Service interface {
	// Ingest creates a line in PENDING. Idempotent on
	// (externalId, sourceSystem): a repeated ingest returns the stored line
	// marked as a duplicate instead of creating a second row.
	Ingest(ctx context.Context, req IngestRequest) (*Mutation, error)
	// Transition validates the edge against the state graph. Entering
	// READY_TO_INVOICE resolves and snapshots the applied rate using the
	// line's work date.
	Transition(ctx context.Context, req TransitionRequest) (*Mutation, error)
	// OverrideRate replaces the applied rate. Requires the admin role and a
	// reason; recomputes the extended amount.
	OverrideRate(ctx context.Context, req OverrideRateRequest) (*Mutation, error)
	Reject(ctx context.Context, req RejectRequest) (*Mutation, error)
	Update(ctx context.Context, req UpdateRequest) (*Mutation, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (*Response, error)
}

// ParseID parses a line id from its string form.
func ParseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidID         = errors.New("invalid_id")
	ErrIllegalTransition = errors.New("illegal_transition")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidRate       = errors.New("invalid_rate")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidExternalID = errors.New("invalid_external_id")
	ErrInvalidContractor = errors.New("invalid_contractor")
	ErrInvalidWorkDate   = errors.New("invalid_work_date")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrLineImmutable     = errors.New("line_immutable")
	ErrStaleUpdate       = errors.New("stale_update")
)
