// Package domain contains the production line ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Lifecycle statuses of a production line.
const (
	StatusPending        = "PENDING"
	StatusReviewed       = "REVIEWED"
	StatusReadyToInvoice = "READY_TO_INVOICE"
	StatusInvoiced       = "INVOICED"
	StatusRejected       = "REJECTED"
)

// transitions is the legal edge set of the line state machine. INVOICED has
// no outgoing edge here; reopening an invoiced line happens only through a
// batch dispute.
var transitions = map[string][]string{
	StatusPending:        {StatusReviewed},
	StatusReviewed:       {StatusReadyToInvoice, StatusRejected},
	StatusReadyToInvoice: {StatusInvoiced, StatusRejected},
	StatusRejected:       {StatusPending},
}

// ValidStatus reports whether status names a known lifecycle state.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusReviewed, StatusReadyToInvoice, StatusInvoiced, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProductionLine is one unit of billable field work.
type ProductionLine struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	ExternalID   string       `gorm:"type:text;not null;uniqueIndex:ux_line_external,priority:1"`
	SourceSystem string       `gorm:"type:text;not null;uniqueIndex:ux_line_external,priority:2"`
	JobID        string       `gorm:"type:text;index"`
	Description  string       `gorm:"type:text"`

	Quantity decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	Unit     string          `gorm:"type:text;not null"`

	ProjectID   string `gorm:"type:text;index"`
	ProjectName string `gorm:"type:text"`
	Contractor  string `gorm:"type:text;not null;index"`
	CrewID      string `gorm:"type:text;index"`
	CrewName    string `gorm:"type:text"`

	WorkDate    time.Time  `gorm:"not null;index"`
	CompletedAt *time.Time

	Latitude  *float64
	Longitude *float64
	Address   string  `gorm:"type:text"`
	PoleID    *string `gorm:"type:text"`

	WorkType     string `gorm:"type:text"`
	ActivityCode string `gorm:"type:text;not null"`

	Status          string    `gorm:"type:text;not null;index"`
	StatusChangedAt time.Time `gorm:"not null"`

	EvidenceCount       int  `gorm:"not null;default:0"`
	HasRequiredEvidence bool `gorm:"not null;default:false"`

	BillingLineItemCode string `gorm:"type:text;index"`
	BillingDescription  string `gorm:"type:text"`

	RateCardID      *snowflake.ID
	RateCardVersion *int
	AppliedRate     *decimal.Decimal `gorm:"type:numeric(18,4)"`
	ExtendedAmount  *decimal.Decimal `gorm:"type:numeric(18,4)"`

	ComplianceScore *float64
	Flags           datatypes.JSONSlice[string]

	// Set while the line is referenced by an active batch; cleared when the
	// batch rejects or disputes it. Enforces the one-active-batch rule.
	InvoiceBatchID *snowflake.ID `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	SyncedAt  *time.Time
}

// TableName sets the database table name.
func (ProductionLine) TableName() string { return "production_lines" }

// Mapping ties a field activity code to a billing line item and its default
// unit, per the fiber construction price book.
type Mapping struct {
	Code        string
	Description string
	Unit        string
}

var activityMappings = map[string]Mapping{
	"FIBER":    {Code: "FIBER_PLACEMENT", Description: "Aerial Fiber Placement", Unit: "ft"},
	"STRAND":   {Code: "STRAND_PLACEMENT", Description: "Strand Placement", Unit: "ft"},
	"OVERLASH": {Code: "OVERLASH", Description: "Fiber Overlash", Unit: "ft"},
	"ANCHOR":   {Code: "ANCHOR_INSTALL", Description: "Down Guy / Anchor Assembly Installation", Unit: "each"},
	"COIL":     {Code: "COIL_INSTALL", Description: "Slack Coil Installation", Unit: "each"},
	"SNOWSHOE": {Code: "SNOWSHOE_INSTALL", Description: "Snowshoe (Emergency Reserve) Installation", Unit: "each"},
}

// MapActivityCode resolves a billing line item for a raw activity code. The
// second return is false when the code is unknown and needs manual mapping.
func MapActivityCode(activityCode string) (Mapping, bool) {
	mapping, ok := activityMappings[activityCode]
	return mapping, ok
}
