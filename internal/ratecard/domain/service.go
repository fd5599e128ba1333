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

// EntryInput is one priced code in a create/version request.
type EntryInput struct {
	LineItemCode string           `json:"line_item_code"`
	Description  string           `json:"description"`
	Unit         string           `json:"unit"`
	Rate         decimal.Decimal  `json:"rate"`
	MinQuantity  *decimal.Decimal `json:"min_quantity"`
	MaxQuantity  *decimal.Decimal `json:"max_quantity"`
}

// CreateRequest creates a card along with its first version.
type CreateRequest struct {
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Contractor    string       `json:"contractor"`
	Project       *string      `json:"project"`
	Region        *string      `json:"region"`
	EffectiveFrom string       `json:"effective_from"`
	Entries       []EntryInput `json:"entries"`
	ChangeNotes   string       `json:"change_notes"`
}

// CreateVersionRequest appends a revision to an existing card.
type CreateVersionRequest struct {
	RateCardID    string       `json:"-"`
	EffectiveFrom string       `json:"effective_from"`
	Entries       []EntryInput `json:"entries"`
	ChangeNotes   string       `json:"change_notes"`
}

// ListRequest filters the card listing.
type ListRequest struct {
	Contractor string `form:"contractor"`
	Project    string `form:"project"`
	Active     *bool  `form:"active"`
	pagination.Pagination
}

// ListResponse is a page of cards.
type ListResponse struct {
	pagination.PageInfo
	RateCards []Response `json:"rate_cards"`
}

// EntryResponse is the JSON shape of a rate entry.
type EntryResponse struct {
	LineItemCode string           `json:"line_item_code"`
	Description  string           `json:"description,omitempty"`
	Unit         string           `json:"unit"`
	Rate         decimal.Decimal  `json:"rate"`
	MinQuantity  *decimal.Decimal `json:"min_quantity,omitempty"`
	MaxQuantity  *decimal.Decimal `json:"max_quantity,omitempty"`
}

// VersionResponse is the JSON shape of a card version.
type VersionResponse struct {
	Version       int             `json:"version"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	Author        string          `json:"author"`
	ChangeNotes   string          `json:"change_notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Entries       []EntryResponse `json:"entries"`
}

// Response is the JSON shape of a rate card.
type Response struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Contractor     string            `json:"contractor"`
	Project        *string           `json:"project,omitempty"`
	Region         *string           `json:"region,omitempty"`
	CurrentVersion int               `json:"current_version"`
	EffectiveFrom  time.Time         `json:"effective_from"`
	EffectiveTo    *time.Time        `json:"effective_to,omitempty"`
	Active         bool              `json:"active"`
	Versions       []VersionResponse `json:"versions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Service is the versioned rate card store.
type Service interface {
	// ResolveRate selects the card matching scope, the version whose
	// effective range contains asOf, and the entry for lineItemCode.
	ResolveRate(ctx context.Context, scope Scope, lineItemCode string, asOf time.Time) (ResolvedRate, error)
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*Response, error)
	// FreezeSnapshot returns an immutable deep copy of one version. It has
	// no side effects on the store.
	FreezeSnapshot(ctx context.Context, rateCardID snowflake.ID, version int) (*Snapshot, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (*Response, error)
	// Deactivate retires a card without deleting it.
	Deactivate(ctx context.Context, id string) (*Response, error)
}

// ParseID parses a card id from its string form.
func ParseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

var (
	ErrRateNotFound          = errors.New("rate_not_found")
	ErrAmbiguousScope        = errors.New("ambiguous_scope")
	ErrEffectiveDateConflict = errors.New("effective_date_conflict")
	ErrDuplicateLineItem     = errors.New("duplicate_line_item")
	ErrVersionNotFound       = errors.New("version_not_found")
	ErrNotFound              = errors.New("not_found")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidContractor     = errors.New("invalid_contractor")
	ErrInvalidEffectiveFrom  = errors.New("invalid_effective_from")
	ErrInvalidEntries        = errors.New("invalid_entries")
	ErrInvalidRate           = errors.New("invalid_rate")
	ErrInvalidQuantityBounds = errors.New("invalid_quantity_bounds")
)
