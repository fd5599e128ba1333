// Package domain contains the versioned rate card models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RateCard is a named price list scoped to a contractor and optionally a
// project or region.
type RateCard struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	Description    string       `gorm:"type:text"`
	Contractor     string       `gorm:"type:text;not null;index"`
	Project        *string      `gorm:"type:text;index"`
	Region         *string      `gorm:"type:text"`
	CurrentVersion int          `gorm:"not null;default:0"`
	EffectiveFrom  time.Time    `gorm:"not null"`
	EffectiveTo    *time.Time
	Active         bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RateCard) TableName() string { return "rate_cards" }

// RateCardVersion is one immutable revision of a card's entries.
type RateCardVersion struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	RateCardID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_rate_card_version,priority:1"`
	Version       int          `gorm:"not null;uniqueIndex:ux_rate_card_version,priority:2"`
	EffectiveFrom time.Time    `gorm:"not null"`
	EffectiveTo   *time.Time
	Author        string    `gorm:"type:text;not null"`
	ChangeNotes   string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Entries []RateEntry `gorm:"foreignKey:RateCardVersionID"`
}

// TableName sets the database table name.
func (RateCardVersion) TableName() string { return "rate_card_versions" }

// RateEntry prices one billing line-item code.
type RateEntry struct {
	ID                snowflake.ID     `gorm:"primaryKey"`
	RateCardVersionID snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_rate_entry_code,priority:1"`
	LineItemCode      string           `gorm:"type:text;not null;uniqueIndex:ux_rate_entry_code,priority:2"`
	Description       string           `gorm:"type:text"`
	Unit              string           `gorm:"type:text;not null"`
	Rate              decimal.Decimal  `gorm:"type:numeric(18,4);not null"`
	MinQuantity       *decimal.Decimal `gorm:"type:numeric(18,4)"`
	MaxQuantity       *decimal.Decimal `gorm:"type:numeric(18,4)"`
	Position          int              `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (RateEntry) TableName() string { return "rate_entries" }

// Scope identifies which card prices a production line.
type Scope struct {
	Contractor string
	Project    string
}

// ResolvedRate is the outcome of a price lookup.
type ResolvedRate struct {
	RateCardID snowflake.ID
	Version    int
	Entry      RateEntry
}

// SnapshotEntry is the frozen copy of one rate entry.
type SnapshotEntry struct {
	LineItemCode string           `json:"line_item_code"`
	Description  string           `json:"description,omitempty"`
	Unit         string           `json:"unit"`
	Rate         decimal.Decimal  `json:"rate"`
	MinQuantity  *decimal.Decimal `json:"min_quantity,omitempty"`
	MaxQuantity  *decimal.Decimal `json:"max_quantity,omitempty"`
}

// Snapshot is an immutable deep copy of a rate card version, captured when an
// invoice batch is submitted so historical pricing survives later revisions.
type Snapshot struct {
	RateCardID    string          `json:"rate_card_id"`
	RateCardName  string          `json:"rate_card_name"`
	Contractor    string          `json:"contractor"`
	Version       int             `json:"version"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	FrozenAt      time.Time       `json:"frozen_at"`
	Entries       []SnapshotEntry `json:"entries"`
}
