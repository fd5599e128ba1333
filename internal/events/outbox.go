// Package events stores domain events in a transactional outbox.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event types emitted by the reconciliation engine.
const (
	TypeLineIngested   = "production_line.ingested"
	TypeLineInvoiced   = "production_line.invoiced"
	TypeLineRejected   = "production_line.rejected"
	TypeBatchSubmitted = "invoice_batch.submitted"
	TypeBatchDisputed  = "invoice_batch.disputed"
	TypeBatchPaid      = "invoice_batch.paid"
)

// BillingEvent is one outbox row awaiting relay.
type BillingEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	EntityType string            `gorm:"type:text;not null;index"`
	EntityID   string            `gorm:"type:text;not null;index"`
	EventType  string            `gorm:"type:text;not null"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb"`
	DedupeKey  *string           `gorm:"type:text;uniqueIndex"`
	Published  bool              `gorm:"not null;default:false"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

// Event describes a billing event to store in the outbox.
type Event struct {
	EntityType string
	EntityID   string
	Type       string
	Payload    map[string]any
	DedupeKey  string
}

// Outbox inserts billing events into the billing_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

// NewOutbox builds the outbox writer.
func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction so the event and
// the mutation it describes commit or roll back together.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if strings.TrimSpace(event.EntityType) == "" || strings.TrimSpace(event.EntityID) == "" {
		return errors.New("invalid_entity")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	row := BillingEvent{
		ID:         o.genID.Generate(),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		EventType:  name,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if dedupe := strings.TrimSpace(event.DedupeKey); dedupe != "" {
		row.DedupeKey = &dedupe
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// Module provides the outbox writer.
var Module = fx.Module("events",
	fx.Provide(NewOutbox),
)
