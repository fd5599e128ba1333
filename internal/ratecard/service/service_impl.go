// Package service implements the versioned rate card store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/cache"
	"github.com/nextgenfiber/fieldbill/internal/clock"
	"github.com/nextgenfiber/fieldbill/internal/config"
	domain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	"github.com/nextgenfiber/fieldbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service implements domain.Service on gorm.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clk      clock.Clock
	authz    authorization.Service
	auditSvc auditdomain.Service
	rates    *cache.TTLCache[string, domain.ResolvedRate]
	cacheTTL time.Duration
}

// ServiceParam collects dependencies from the fx graph.
type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Authz authorization.Service
	Audit auditdomain.Service
	Cfg   config.Config
}

// NewService builds the rate card store.
func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ratecard.service"),
		genID:    p.GenID,
		clk:      p.Clock,
		authz:    p.Authz,
		auditSvc: p.Audit,
		rates:    cache.NewTTLCache[string, domain.ResolvedRate](),
		cacheTTL: p.Cfg.Billing.RateCacheTTL,
	}
}

func (s *Service) ResolveRate(ctx context.Context, scope domain.Scope, lineItemCode string, asOf time.Time) (domain.ResolvedRate, error) {
	contractor := strings.TrimSpace(scope.Contractor)
	code := strings.TrimSpace(lineItemCode)
	if contractor == "" || code == "" {
		return domain.ResolvedRate{}, domain.ErrRateNotFound
	}
	asOf = asOf.UTC().Truncate(24 * time.Hour)

	key := cacheKey(contractor, scope.Project, code, asOf)
	if cached, ok := s.rates.Get(key); ok {
		return cached, nil
	}

	cards, err := s.candidateCards(ctx, contractor, scope.Project)
	if err != nil {
		return domain.ResolvedRate{}, err
	}

	// Project-scoped cards shadow contractor-wide cards.
	for _, projectScoped := range []bool{true, false} {
		resolved, matches, err := s.resolveAmong(ctx, cards, projectScoped, code, asOf)
		if err != nil {
			return domain.ResolvedRate{}, err
		}
		if matches > 1 {
			// Overlapping active cards violate the store invariant; this is
			// a data corruption signal, not a caller mistake.
			return domain.ResolvedRate{}, domain.ErrAmbiguousScope
		}
		if matches == 1 {
			s.rates.Set(key, resolved, s.cacheTTL)
			return resolved, nil
		}
	}
	return domain.ResolvedRate{}, domain.ErrRateNotFound
}

func (s *Service) candidateCards(ctx context.Context, contractor, project string) ([]domain.RateCard, error) {
	query := s.db.WithContext(ctx).
		Where("contractor = ? AND active = ?", contractor, true)
	if strings.TrimSpace(project) != "" {
		query = query.Where("project IS NULL OR project = ?", project)
	} else {
		query = query.Where("project IS NULL")
	}

	var cards []domain.RateCard
	if err := query.Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Service) resolveAmong(ctx context.Context, cards []domain.RateCard, projectScoped bool, code string, asOf time.Time) (domain.ResolvedRate, int, error) {
	var (
		resolved domain.ResolvedRate
		matches  int
	)
	for _, card := range cards {
		if (card.Project != nil) != projectScoped {
			continue
		}
		version, err := s.versionCovering(ctx, card.ID, asOf)
		if err != nil {
			return domain.ResolvedRate{}, 0, err
		}
		if version == nil {
			continue
		}
		var entry domain.RateEntry
		err = s.db.WithContext(ctx).
			Where("rate_card_version_id = ? AND line_item_code = ?", version.ID, code).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return domain.ResolvedRate{}, 0, err
		}
		matches++
		resolved = domain.ResolvedRate{
			RateCardID: card.ID,
			Version:    version.Version,
			Entry:      entry,
		}
	}
	return resolved, matches, nil
}

func (s *Service) versionCovering(ctx context.Context, cardID snowflake.ID, asOf time.Time) (*domain.RateCardVersion, error) {
	var version domain.RateCardVersion
	err := s.db.WithContext(ctx).
		Where("rate_card_id = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)", cardID, asOf, asOf).
		Order("version DESC").
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectRateCard, authorization.ActionRateCardCreate); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	contractor := strings.TrimSpace(req.Contractor)
	if contractor == "" {
		return nil, domain.ErrInvalidContractor
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom)
	if err != nil {
		return nil, domain.ErrInvalidEffectiveFrom
	}
	if err := validateEntries(req.Entries); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	card := domain.RateCard{
		ID:             s.genID.Generate(),
		Name:           name,
		Description:    strings.TrimSpace(req.Description),
		Contractor:     contractor,
		Project:        trimOptional(req.Project),
		Region:         trimOptional(req.Region),
		CurrentVersion: 1,
		EffectiveFrom:  effectiveFrom,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	version := s.buildVersion(card.ID, 1, effectiveFrom, req.Entries, actor, req.ChangeNotes, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&card).Error; err != nil {
			return err
		}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		_, err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:  "rate_card.create",
			EntityType: auditdomain.EntityRateCard,
			EntityID:   card.ID.String(),
			NewValue: map[string]any{
				"name":           card.Name,
				"contractor":     card.Contractor,
				"effective_from": effectiveFrom.Format(dateLayout),
				"entry_count":    len(version.Entries),
			},
			Reason: req.ChangeNotes,
		})
		return err
	})
	if err != nil {
		s.auditSvc.RecordFailure(ctx, failureEntry("rate_card.create", card.ID), err)
		return nil, err
	}

	s.rates.Flush()
	return s.GetByID(ctx, card.ID.String())
}

func (s *Service) CreateVersion(ctx context.Context, req domain.CreateVersionRequest) (*domain.Response, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectRateCard, authorization.ActionRateCardVersion); err != nil {
		return nil, err
	}

	cardID, err := domain.ParseID(req.RateCardID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom)
	if err != nil {
		return nil, domain.ErrInvalidEffectiveFrom
	}
	if err := validateEntries(req.Entries); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	var newVersion int

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card domain.RateCard
		if err := lockForUpdate(tx).First(&card, "id = ?", cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		var latest domain.RateCardVersion
		if err := tx.Where("rate_card_id = ?", card.ID).
			Order("version DESC").
			First(&latest).Error; err != nil {
			return err
		}

		// Version ranges must never overlap: the new revision starts after
		// the latest one, which gets closed at effectiveFrom minus one day.
		if !effectiveFrom.After(latest.EffectiveFrom) {
			return domain.ErrEffectiveDateConflict
		}

		closeAt := effectiveFrom.AddDate(0, 0, -1)
		if err := tx.Model(&domain.RateCardVersion{}).
			Where("id = ?", latest.ID).
			Update("effective_to", closeAt).Error; err != nil {
			return err
		}

		newVersion = latest.Version + 1
		version := s.buildVersion(card.ID, newVersion, effectiveFrom, req.Entries, actor, req.ChangeNotes, now)
		if err := tx.Create(&version).Error; err != nil {
			return err
		}

		if err := tx.Model(&domain.RateCard{}).
			Where("id = ?", card.ID).
			Updates(map[string]any{"current_version": newVersion, "updated_at": now}).Error; err != nil {
			return err
		}

		_, err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:  "rate_card.create_version",
			EntityType: auditdomain.EntityRateCard,
			EntityID:   card.ID.String(),
			PreviousValue: map[string]any{
				"version":        latest.Version,
				"effective_from": latest.EffectiveFrom.Format(dateLayout),
			},
			NewValue: map[string]any{
				"version":        newVersion,
				"effective_from": effectiveFrom.Format(dateLayout),
				"entry_count":    len(req.Entries),
			},
			ChangedFields: []string{"current_version", "versions"},
			Reason:        req.ChangeNotes,
		})
		return err
	})
	if err != nil {
		s.auditSvc.RecordFailure(ctx, failureEntry("rate_card.create_version", cardID), err)
		return nil, err
	}

	s.rates.Flush()
	return s.GetByID(ctx, cardID.String())
}

func (s *Service) FreezeSnapshot(ctx context.Context, rateCardID snowflake.ID, versionNumber int) (*domain.Snapshot, error) {
	var card domain.RateCard
	if err := s.db.WithContext(ctx).First(&card, "id = ?", rateCardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var version domain.RateCardVersion
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("rate_card_id = ? AND version = ?", rateCardID, versionNumber).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}

	snapshot := &domain.Snapshot{
		RateCardID:    card.ID.String(),
		RateCardName:  card.Name,
		Contractor:    card.Contractor,
		Version:       version.Version,
		EffectiveFrom: version.EffectiveFrom,
		EffectiveTo:   copyTime(version.EffectiveTo),
		FrozenAt:      s.clk.Now(),
		Entries:       make([]domain.SnapshotEntry, 0, len(version.Entries)),
	}
	for _, entry := range version.Entries {
		snapshot.Entries = append(snapshot.Entries, domain.SnapshotEntry{
			LineItemCode: entry.LineItemCode,
			Description:  entry.Description,
			Unit:         entry.Unit,
			Rate:         entry.Rate,
			MinQuantity:  copyDecimal(entry.MinQuantity),
			MaxQuantity:  copyDecimal(entry.MaxQuantity),
		})
	}
	return snapshot, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	query := s.db.WithContext(ctx).Model(&domain.RateCard{})
	if contractor := strings.TrimSpace(req.Contractor); contractor != "" {
		query = query.Where("contractor = ?", contractor)
	}
	if project := strings.TrimSpace(req.Project); project != "" {
		query = query.Where("project = ?", project)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return domain.ListResponse{}, err
	}

	var cards []domain.RateCard
	if err := req.Pagination.Scope(query).Order("contractor ASC, name ASC").Find(&cards).Error; err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{
		PageInfo:  pagination.NewPageInfo(req.Pagination, total),
		RateCards: make([]domain.Response, 0, len(cards)),
	}
	for i := range cards {
		resp.RateCards = append(resp.RateCards, toResponse(&cards[i], nil))
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Response, error) {
	cardID, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var card domain.RateCard
	if err := s.db.WithContext(ctx).First(&card, "id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var versions []domain.RateCardVersion
	err = s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("rate_card_id = ?", card.ID).
		Order("version ASC").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}

	resp := toResponse(&card, versions)
	return &resp, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (*domain.Response, error) {
	actor := auditcontext.ActorFromContext(ctx)
	if err := s.authz.Authorize(ctx, actor.Role, authorization.ObjectRateCard, authorization.ActionRateCardCreate); err != nil {
		return nil, err
	}

	cardID, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	now := s.clk.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.RateCard{}).
			Where("id = ? AND active = ?", cardID, true).
			Updates(map[string]any{"active": false, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		_, err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			EventType:     "rate_card.deactivate",
			EntityType:    auditdomain.EntityRateCard,
			EntityID:      cardID.String(),
			PreviousValue: map[string]any{"active": true},
			NewValue:      map[string]any{"active": false},
			ChangedFields: []string{"active"},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.rates.Flush()
	return s.GetByID(ctx, id)
}

func (s *Service) buildVersion(cardID snowflake.ID, versionNumber int, effectiveFrom time.Time, entries []domain.EntryInput, actor auditcontext.Actor, notes string, now time.Time) domain.RateCardVersion {
	version := domain.RateCardVersion{
		ID:            s.genID.Generate(),
		RateCardID:    cardID,
		Version:       versionNumber,
		EffectiveFrom: effectiveFrom,
		Author:        actorLabel(actor),
		ChangeNotes:   strings.TrimSpace(notes),
		CreatedAt:     now,
		Entries:       make([]domain.RateEntry, 0, len(entries)),
	}
	for i, input := range entries {
		version.Entries = append(version.Entries, domain.RateEntry{
			ID:                s.genID.Generate(),
			RateCardVersionID: version.ID,
			LineItemCode:      strings.TrimSpace(input.LineItemCode),
			Description:       strings.TrimSpace(input.Description),
			Unit:              strings.TrimSpace(input.Unit),
			Rate:              input.Rate,
			MinQuantity:       input.MinQuantity,
			MaxQuantity:       input.MaxQuantity,
			Position:          i,
		})
	}
	return version
}

func validateEntries(entries []domain.EntryInput) error {
	if len(entries) == 0 {
		return domain.ErrInvalidEntries
	}
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.LineItemCode)
		if code == "" || strings.TrimSpace(entry.Unit) == "" {
			return domain.ErrInvalidEntries
		}
		if _, dup := seen[code]; dup {
			return domain.ErrDuplicateLineItem
		}
		seen[code] = struct{}{}
		if !entry.Rate.IsPositive() {
			return domain.ErrInvalidRate
		}
		if entry.MinQuantity != nil && entry.MaxQuantity != nil && entry.MinQuantity.GreaterThan(*entry.MaxQuantity) {
			return domain.ErrInvalidQuantityBounds
		}
	}
	return nil
}

func toResponse(card *domain.RateCard, versions []domain.RateCardVersion) domain.Response {
	resp := domain.Response{
		ID:             card.ID.String(),
		Name:           card.Name,
		Description:    card.Description,
		Contractor:     card.Contractor,
		Project:        card.Project,
		Region:         card.Region,
		CurrentVersion: card.CurrentVersion,
		EffectiveFrom:  card.EffectiveFrom,
		EffectiveTo:    card.EffectiveTo,
		Active:         card.Active,
		CreatedAt:      card.CreatedAt,
		UpdatedAt:      card.UpdatedAt,
	}
	for _, version := range versions {
		vr := domain.VersionResponse{
			Version:       version.Version,
			EffectiveFrom: version.EffectiveFrom,
			EffectiveTo:   version.EffectiveTo,
			Author:        version.Author,
			ChangeNotes:   version.ChangeNotes,
			CreatedAt:     version.CreatedAt,
			Entries:       make([]domain.EntryResponse, 0, len(version.Entries)),
		}
		for _, entry := range version.Entries {
			vr.Entries = append(vr.Entries, domain.EntryResponse{
				LineItemCode: entry.LineItemCode,
				Description:  entry.Description,
				Unit:         entry.Unit,
				Rate:         entry.Rate,
				MinQuantity:  entry.MinQuantity,
				MaxQuantity:  entry.MaxQuantity,
			})
		}
		resp.Versions = append(resp.Versions, vr)
	}
	return resp
}

const dateLayout = "2006-01-02"

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if at, err := time.Parse(dateLayout, raw); err == nil {
		return at.UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC().Truncate(24 * time.Hour), nil
}

func cacheKey(contractor, project, code string, asOf time.Time) string {
	return contractor + "|" + project + "|" + code + "|" + asOf.Format(dateLayout)
}

func actorLabel(actor auditcontext.Actor) string {
	if actor.ID != "" {
		return actor.ID
	}
	return auditcontext.ActorTypeSystem
}

func trimOptional(raw *string) *string {
	if raw == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func copyTime(at *time.Time) *time.Time {
	if at == nil {
		return nil
	}
	copied := *at
	return &copied
}

func copyDecimal(value *decimal.Decimal) *decimal.Decimal {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func failureEntry(eventType string, entityID snowflake.ID) auditdomain.Entry {
	return auditdomain.Entry{
		EventType:  eventType,
		EntityType: auditdomain.EntityRateCard,
		EntityID:   entityID.String(),
	}
}

// lockForUpdate applies row locking on dialects that support it. SQLite
// serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
