package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Entity types referenced by audit events.
const (
	EntityProductionLine = "production_line"
	EntityInvoiceBatch   = "invoice_batch"
	EntityRateCard       = "rate_card"
)

// AuditEvent captures an immutable record of a billing mutation, including
// the attempted-but-failed ones.
type AuditEvent struct {
	ID            snowflake.ID                `gorm:"primaryKey"`
	EventType     string                      `gorm:"type:text;not null;index"`
	EntityType    string                      `gorm:"type:text;not null;index:ix_audit_entity,priority:1"`
	EntityID      string                      `gorm:"type:text;not null;index:ix_audit_entity,priority:2"`
	ActorType     string                      `gorm:"type:text;not null"`
	ActorID       *string                     `gorm:"type:text;index"`
	ActorRole     *string                     `gorm:"type:text"`
	PreviousValue datatypes.JSONMap           `gorm:"type:jsonb"`
	NewValue      datatypes.JSONMap           `gorm:"type:jsonb"`
	ChangedFields datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Reason        *string                     `gorm:"type:text"`
	Success       bool                        `gorm:"not null;default:true"`
	ErrorMessage  *string                     `gorm:"type:text"`
	RequestID     *string                     `gorm:"type:text;index"`
	IPAddress     *string                     `gorm:"type:text"`
	UserAgent     *string                     `gorm:"type:text"`
	CreatedAt     time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (AuditEvent) TableName() string { return "audit_events" }
