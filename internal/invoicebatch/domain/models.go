// Package domain contains the invoice batch models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Lifecycle statuses of an invoice batch.
const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
	StatusPaid      = "PAID"
	StatusDisputed  = "DISPUTED"
)

// batchTransitions is the legal edge set. PAID is terminal; a dispute loops
// the batch back through DRAFT for correction.
var batchTransitions = map[string][]string{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusPaid, StatusDisputed},
	StatusDisputed:  {StatusDraft},
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to string) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment terms accepted on a batch.
const (
	TermsDueOnReceipt = "DUE_ON_RECEIPT"
	TermsNet15        = "NET_15"
	TermsNet30        = "NET_30"
	TermsNet45        = "NET_45"
	TermsNet60        = "NET_60"
)

// TermsDays returns the payment window in days for a terms string.
func TermsDays(terms string) (int, bool) {
	switch terms {
	case TermsDueOnReceipt:
		return 0, true
	case TermsNet15:
		return 15, true
	case TermsNet30:
		return 30, true
	case TermsNet45:
		return 45, true
	case TermsNet60:
		return 60, true
	}
	return 0, false
}

// QtyBreakdown attributes part of an aggregated quantity to a source line.
type QtyBreakdown struct {
	LineID   string          `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BatchLineItem aggregates member lines sharing one billing code.
type BatchLineItem struct {
	LineItemCode    string          `json:"line_item_code"`
	Description     string          `json:"description"`
	Unit            string          `json:"unit"`
	TotalQty        decimal.Decimal `json:"total_qty"`
	Breakdown       []QtyBreakdown  `json:"breakdown"`
	Rate            decimal.Decimal `json:"rate"`
	RateCardID      string          `json:"rate_card_id,omitempty"`
	RateCardVersion int             `json:"rate_card_version,omitempty"`
	ExtendedAmount  decimal.Decimal `json:"extended_amount"`
	EvidenceCount   int             `json:"evidence_count"`
	ComplianceScore float64         `json:"compliance_score"`
	HasIssues       bool            `json:"has_issues"`
}

// Deduction reduces the batch total by a fixed amount or a percentage of the
// subtotal. Retainage is one deduction among possibly several.
type Deduction struct {
	Category    string           `json:"category"`
	Description string           `json:"description,omitempty"`
	Percent     *decimal.Decimal `json:"percent,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	Reason      string           `json:"reason,omitempty"`
	AddedBy     string           `json:"added_by,omitempty"`
	AddedAt     time.Time        `json:"added_at"`
}

// ChecklistItem is one named requirement in the readiness assessment.
type ChecklistItem struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// PackageReadiness gates batch submission.
type PackageReadiness struct {
	Score      float64         `json:"score"`
	IsReady    bool            `json:"is_ready"`
	Checklist  []ChecklistItem `json:"checklist"`
	AssessedAt time.Time       `json:"assessed_at"`
}

// StatusChange is one entry in the batch status history.
type StatusChange struct {
	Status string    `json:"status"`
	Actor  string    `json:"actor,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// InvoiceBatch groups production lines for one contractor/project/period.
type InvoiceBatch struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	BatchNumber   string       `gorm:"type:text;not null;uniqueIndex"`
	InvoiceNumber *string      `gorm:"type:text;index"`

	Contractor  string `gorm:"type:text;not null;index"`
	ProjectID   string `gorm:"type:text;index"`
	ProjectName string `gorm:"type:text"`

	PeriodStart time.Time `gorm:"not null"`
	PeriodEnd   time.Time `gorm:"not null"`

	Status        string                            `gorm:"type:text;not null;index"`
	StatusHistory datatypes.JSONSlice[StatusChange] `gorm:"type:jsonb"`

	LineItems datatypes.JSONSlice[BatchLineItem] `gorm:"type:jsonb"`

	Subtotal        decimal.Decimal                `gorm:"type:numeric(18,4);not null"`
	Deductions      datatypes.JSONSlice[Deduction] `gorm:"type:jsonb"`
	DeductionsTotal decimal.Decimal                `gorm:"type:numeric(18,4);not null"`
	Total           decimal.Decimal                `gorm:"type:numeric(18,4);not null"`

	Readiness   datatypes.JSONType[PackageReadiness] `gorm:"type:jsonb"`
	Attachments datatypes.JSONSlice[string]          `gorm:"type:jsonb"`

	PaymentTerms string `gorm:"type:text;not null"`
	Notes        string `gorm:"type:text"`

	CreatedBy string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	SubmittedAt   *time.Time
	SubmittedBy   *string        `gorm:"type:text"`
	DueDate       *time.Time
	CustomerNotes *string        `gorm:"type:text"`
	RateSnapshots datatypes.JSON `gorm:"type:jsonb"`

	PaidAmount       *decimal.Decimal `gorm:"type:numeric(18,4)"`
	PaidAt           *time.Time
	PaymentReference *string `gorm:"type:text"`
}

// TableName sets the database table name.
func (InvoiceBatch) TableName() string { return "invoice_batches" }
