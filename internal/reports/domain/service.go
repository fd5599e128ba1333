// Package domain defines the read-only reporting surface.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Aging bucket labels, by days past the due date.
const (
	BucketCurrent    = "CURRENT"
	BucketThirty     = "1-30"
	BucketSixty      = "31-60"
	BucketNinety     = "61-90"
	BucketOverNinety = "90+"
)

// AgingRequest scopes the receivables aging report.
type AgingRequest struct {
	AsOf       string `form:"as_of"`
	Contractor string `form:"contractor"`
}

// AgingBatch is one outstanding invoice batch in an aging bucket.
type AgingBatch struct {
	BatchID       string          `json:"batch_id"`
	BatchNumber   string          `json:"batch_number"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Contractor    string          `json:"contractor"`
	Total         decimal.Decimal `json:"total"`
	DueDate       time.Time       `json:"due_date"`
	DaysPastDue   int             `json:"days_past_due"`
}

// AgingBucket groups outstanding batches by how overdue they are.
type AgingBucket struct {
	Label   string          `json:"label"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Batches []AgingBatch    `json:"batches"`
}

// AgingReport is the receivables aging view over submitted, unpaid batches.
type AgingReport struct {
	AsOf             time.Time       `json:"as_of"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	Buckets          []AgingBucket   `json:"buckets"`
}

// RejectionsRequest scopes the rejection analysis report.
type RejectionsRequest struct {
	Contractor string `form:"contractor"`
	From       string `form:"from"`
	To         string `form:"to"`
}

// RejectionCount is the rejection tally for one reason code.
type RejectionCount struct {
	ReasonCode string `json:"reason_code"`
	Count      int    `json:"count"`
}

// ContractorRejections groups rejection counts per contractor.
type ContractorRejections struct {
	Contractor string           `json:"contractor"`
	Total      int              `json:"total"`
	ByReason   []RejectionCount `json:"by_reason"`
}

// RejectionsReport summarizes rejected production lines by reason code.
type RejectionsReport struct {
	TotalRejected int                    `json:"total_rejected"`
	ByReason      []RejectionCount       `json:"by_reason"`
	ByContractor  []ContractorRejections `json:"by_contractor"`
}

// Service serves reporting read models. Reports never mutate state.
type Service interface {
	Aging(ctx context.Context, req AgingRequest) (*AgingReport, error)
	Rejections(ctx context.Context, req RejectionsRequest) (*RejectionsReport, error)
}

var ErrInvalidDate = errors.New("invalid_date")
