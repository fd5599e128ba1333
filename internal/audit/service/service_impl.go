// Package service implements the append-only audit trail.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	domain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service writes and queries audit events.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock
	repo  domain.Repository
	stats *metrics.BillingMetrics
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Stats *metrics.BillingMetrics `optional:"true"`
}

// NewService builds the audit trail service.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clk:   p.Clock,
		repo:  p.Repo,
		stats: p.Stats,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry domain.Entry) (snowflake.ID, error) {
	if tx == nil {
		tx = s.db
	}
	event, err := s.buildEvent(ctx, entry, true, nil)
	if err != nil {
		return 0, err
	}
	if err := s.repo.Insert(ctx, tx, event); err != nil {
		return 0, err
	}
	s.stats.IncAuditWrite("success")
	return event.ID, nil
}

func (s *Service) RecordFailure(ctx context.Context, entry domain.Entry, cause error) snowflake.ID {
	event, err := s.buildEvent(ctx, entry, false, cause)
	if err != nil {
		s.log.Error("failure audit record rejected", zap.Error(err))
		return 0
	}
	// Deliberately outside the caller's transaction: the failure record must
	// survive the rollback of the mutation it describes.
	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		s.log.Error("failure audit record not persisted",
			zap.String("event_type", entry.EventType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err),
		)
		return 0
	}
	s.stats.IncAuditWrite("failure_record")
	return event.ID
}

func (s *Service) buildEvent(ctx context.Context, entry domain.Entry, success bool, cause error) (*domain.AuditEvent, error) {
	if strings.TrimSpace(entry.EventType) == "" {
		return nil, domain.ErrInvalidEventType
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return nil, domain.ErrInvalidEntityType
	}
	if strings.TrimSpace(entry.EntityID) == "" {
		return nil, domain.ErrInvalidEntityID
	}

	actor := auditcontext.ActorFromContext(ctx)
	actorType := actor.Type
	if actorType == "" {
		actorType = auditcontext.ActorTypeSystem
	}

	event := &domain.AuditEvent{
		ID:            s.genID.Generate(),
		EventType:     entry.EventType,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		ActorType:     actorType,
		ActorID:       optional(actor.ID),
		ActorRole:     optional(actor.Role),
		PreviousValue: datatypes.JSONMap(entry.PreviousValue),
		NewValue:      datatypes.JSONMap(entry.NewValue),
		ChangedFields: datatypes.JSONSlice[string](entry.ChangedFields),
		Reason:        optional(entry.Reason),
		Success:       success,
		RequestID:     optional(auditcontext.RequestIDFromContext(ctx)),
		IPAddress:     optional(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:     optional(auditcontext.UserAgentFromContext(ctx)),
		CreatedAt:     s.clk.Now(),
	}
	if cause != nil {
		msg := cause.Error()
		event.ErrorMessage = &msg
	}
	return event, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		EventType:  strings.TrimSpace(req.EventType),
		EntityType: strings.TrimSpace(req.EntityType),
		EntityID:   strings.TrimSpace(req.EntityID),
		ActorID:    strings.TrimSpace(req.ActorID),
		Limit:      req.Limit,
	}

	var err error
	if filter.StartAt, err = parseTime(req.StartAt); err != nil {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}
	if filter.EndAt, err = parseTime(req.EndAt); err != nil {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}
	if filter.StartAt != nil && filter.EndAt != nil && !filter.EndAt.After(*filter.StartAt) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}
	if filter.Cursor, err = decodeCursor(req.Cursor); err != nil {
		return domain.ListResponse{}, err
	}

	events, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{Events: make([]domain.Response, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, toResponse(event))
	}
	if len(events) > 0 {
		last := events[len(events)-1]
		resp.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return resp, nil
}

func toResponse(event *domain.AuditEvent) domain.Response {
	return domain.Response{
		ID:            event.ID.String(),
		EventType:     event.EventType,
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		ActorType:     event.ActorType,
		ActorID:       deref(event.ActorID),
		ActorRole:     deref(event.ActorRole),
		PreviousValue: event.PreviousValue,
		NewValue:      event.NewValue,
		ChangedFields: event.ChangedFields,
		Reason:        deref(event.Reason),
		Success:       event.Success,
		ErrorMessage:  deref(event.ErrorMessage),
		RequestID:     deref(event.RequestID),
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func encodeCursor(createdAt time.Time, id snowflake.ID) string {
	return fmt.Sprintf("%d:%s", createdAt.UTC().UnixNano(), id.String())
}

func decodeCursor(raw string) (*domain.AuditCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return nil, domain.ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidCursor
	}
	id, err := snowflake.ParseString(parts[1])
	if err != nil {
		return nil, domain.ErrInvalidCursor
	}
	return &domain.AuditCursor{ID: id, CreatedAt: time.Unix(0, nanos).UTC()}, nil
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	return &at, nil
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
