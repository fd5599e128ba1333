// Package repository implements audit event persistence.
package repository

import (
	"context"

	domain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	store "github.com/nextgenfiber/fieldbill/pkg/repository"
	"gorm.io/gorm"
)

type repository struct {
	events store.Repository[domain.AuditEvent]
}

// Provide builds the audit repository on the shared connection.
func Provide(db *gorm.DB) domain.Repository {
	return &repository{events: store.ProvideStore[domain.AuditEvent](db)}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, event *domain.AuditEvent) error {
	// db is the caller's transaction; the store falls back to the shared
	// connection when it is nil.
	return r.events.CreateTx(ctx, db, event)
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditEvent, error) {
	query := db.WithContext(ctx).Model(&domain.AuditEvent{})

	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Success != nil {
		query = query.Where("success = ?", *filter.Success)
	}
	if filter.StartAt != nil {
		query = query.Where("created_at >= ?", *filter.StartAt)
	}
	if filter.EndAt != nil {
		query = query.Where("created_at < ?", *filter.EndAt)
	}
	if filter.Cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID,
		)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []*domain.AuditEvent
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
