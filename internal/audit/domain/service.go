package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry is the caller-facing shape of an event before the trail assigns an
// id and timestamp.
type Entry struct {
	EventType     string
	EntityType    string
	EntityID      string
	PreviousValue map[string]any
	NewValue      map[string]any
	ChangedFields []string
	Reason        string
}

// Service is the append-only audit trail.
type Service interface {
	// Record writes a success event inside tx. A nil tx uses the default
	// connection. The returned id identifies the stored event.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (snowflake.ID, error)
	// RecordFailure journals a rejected or failed mutation attempt. It uses
	// its own connection so the record survives the caller's rollback.
	RecordFailure(ctx context.Context, entry Entry, cause error) snowflake.ID
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

// ListRequest filters the audit query endpoint.
type ListRequest struct {
	EventType  string `form:"event_type"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	ActorID    string `form:"actor_id"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
	Cursor     string `form:"cursor"`
	Limit      int    `form:"limit"`
}

// ListResponse is one page of events plus the cursor for the next.
type ListResponse struct {
	Events     []Response `json:"events"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// Response is the JSON shape of a stored event.
type Response struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	ActorType     string         `json:"actor_type"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorRole     string         `json:"actor_role,omitempty"`
	PreviousValue map[string]any `json:"previous_value,omitempty"`
	NewValue      map[string]any `json:"new_value,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

var (
	ErrInvalidEventType  = errors.New("invalid_event_type")
	ErrInvalidEntityType = errors.New("invalid_entity_type")
	ErrInvalidEntityID   = errors.New("invalid_entity_id")
	ErrInvalidCursor     = errors.New("invalid_cursor")
	ErrInvalidTimeRange  = errors.New("invalid_time_range")
)
