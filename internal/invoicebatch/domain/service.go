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

// CreateRequest opens a DRAFT batch over a set of eligible lines.
type CreateRequest struct {
	Contractor   string   `json:"prime_contractor"`
	ProjectID    string   `json:"project_id"`
	ProjectName  string   `json:"project_name"`
	PeriodStart  string   `json:"period_start"`
	PeriodEnd    string   `json:"period_end"`
	LineIDs      []string `json:"line_ids"`
	PaymentTerms string   `json:"payment_terms"`
	Notes        string   `json:"internal_notes"`
}

// UpdateRequest mutates a DRAFT batch.
type UpdateRequest struct {
	BatchID       string   `json:"-"`
	AddLineIDs    []string `json:"add_line_ids"`
	RemoveLineIDs []string `json:"remove_line_ids"`
	Notes         *string  `json:"notes"`
	Attachments   []string `json:"attachments"`
	// Optimistic concurrency: reject the update when the stored batch
	// changed since this timestamp.
	IfUpdatedAt *time.Time `json:"if_updated_at"`
}

// AddDeductionRequest appends a deduction while DRAFT or DISPUTED.
type AddDeductionRequest struct {
	BatchID     string           `json:"-"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Percent     *decimal.Decimal `json:"percent"`
	Amount      *decimal.Decimal `json:"amount"`
	Reason      string           `json:"reason"`
}

// SubmitRequest freezes and submits a batch.
type SubmitRequest struct {
	BatchID       string `json:"-"`
	InvoiceNumber string `json:"invoice_number"`
	CustomerNotes string `json:"customer_notes"`
}

// RecordPaymentRequest closes a SUBMITTED batch.
type RecordPaymentRequest struct {
	BatchID          string          `json:"-"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	PaidAt           string          `json:"paid_at"`
	PaymentReference string          `json:"payment_reference"`
	Notes            string          `json:"notes"`
}

// DisputeRequest reopens named lines of a SUBMITTED batch.
type DisputeRequest struct {
	BatchID string   `json:"-"`
	LineIDs []string `json:"line_ids"`
	Reason  string   `json:"reason"`
}

// ListRequest filters the batch listing.
type ListRequest struct {
	Contractor string   `form:"contractor"`
	Project    string   `form:"project"`
	Statuses   []string `form:"status"`
	pagination.Pagination
}

// ListResponse is a page of batches.
type ListResponse struct {
	pagination.PageInfo
	Batches []Response `json:"invoice_batches"`
}

// Response is the JSON shape of an invoice batch.
type Response struct {
	ID            string  `json:"id"`
	BatchNumber   string  `json:"batch_number"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`

	Contractor  string `json:"contractor"`
	ProjectID   string `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	Status        string         `json:"status"`
	StatusHistory []StatusChange `json:"status_history"`

	LineIDs   []string        `json:"line_ids"`
	LineItems []BatchLineItem `json:"line_items"`

	Subtotal        decimal.Decimal `json:"subtotal"`
	Deductions      []Deduction     `json:"deductions,omitempty"`
	DeductionsTotal decimal.Decimal `json:"deductions_total"`
	Total           decimal.Decimal `json:"total"`

	Readiness   *PackageReadiness `json:"package_readiness,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`

	PaymentTerms string `json:"payment_terms"`
	Notes        string `json:"notes,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy   *string    `json:"submitted_by,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CustomerNotes *string    `json:"customer_notes,omitempty"`
	RateSnapshots any        `json:"rate_snapshots,omitempty"`

	PaidAmount       *decimal.Decimal `json:"paid_amount,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	PaymentReference *string          `json:"payment_reference,omitempty"`
}

// Mutation pairs the updated batch with the audit event it produced.
type Mutation struct {
	Batch        *Response `json:"batch"`
	AuditEventID string    `json:"audit_event_id"`
	// Warnings carries non-blocking findings, e.g. a payment amount that
	// does not match the batch total.
	Warnings []string `json:"warnings,omitempty"`
}

// Service is the invoice batch assembler.
type Service interface {
	// CreateBatch opens a DRAFT batch. Every line must be READY_TO_INVOICE
	// and unreferenced by another active batch.
	CreateBatch(ctx context.Context, req CreateRequest) (*Mutation, error)
	// UpdateBatch mutates a DRAFT batch and re-runs aggregation.
	UpdateBatch(ctx context.Context, req UpdateRequest) (*Mutation, error)
	AddDeduction(ctx context.Context, req AddDeductionRequest) (*Mutation, error)
	// AssessReadiness runs validation across member lines plus batch-level
	// checks and stores the resulting checklist.
	AssessReadiness(ctx context.Context, batchID string) (*PackageReadiness, error)
	// Submit freezes rate snapshots, invoices every member line, and sets
	// the due date from the payment terms. Idempotent per invoice number.
	Submit(ctx context.Context, req SubmitRequest) (*Mutation, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Mutation, error)
	// Dispute reopens named lines to REJECTED, removes them from the batch,
	// and moves the batch to DISPUTED.
	Dispute(ctx context.Context, req DisputeRequest) (*Mutation, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (*Response, error)
}

// ParseID parses a batch id from its string form.
func ParseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidContractor   = errors.New("invalid_contractor")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidTerms        = errors.New("invalid_payment_terms")
	ErrInvalidLineSet      = errors.New("invalid_line_set")
	ErrInvalidDeduction    = errors.New("invalid_deduction")
	ErrInvalidInvoiceNo    = errors.New("invalid_invoice_number")
	ErrInvalidPaidAmount   = errors.New("invalid_paid_amount")
	ErrInvalidPaidAt       = errors.New("invalid_paid_at")
	ErrLineNotEligible     = errors.New("line_not_eligible")
	ErrLineAlreadyInvoiced = errors.New("line_already_invoiced")
	ErrInvalidState        = errors.New("invalid_state")
	ErrNotReady            = errors.New("not_ready")
	ErrStaleUpdate         = errors.New("stale_update")
	ErrInvoiceNoConflict   = errors.New("invoice_number_conflict")
)

// NotReadyError is returned by Submit when readiness checks fail. It carries
// the failing checklist items so the caller can correct them without a second
// assessment call. Matches ErrNotReady under errors.Is.
type NotReadyError struct {
	Checklist []ChecklistItem
}

func (e *NotReadyError) Error() string { return ErrNotReady.Error() }

func (e *NotReadyError) Unwrap() error { return ErrNotReady }
