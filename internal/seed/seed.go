// Package seed loads demo billing data for non-production environments.
package seed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	"github.com/nextgenfiber/fieldbill/internal/config"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
)

const demoContractor = "demo-fiber-co"

func mustDecimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

// demoEntries mirror the standard aerial construction price book.
var demoEntries = []ratecarddomain.EntryInput{
	{LineItemCode: "FIBER_PLACEMENT", Description: "Aerial Fiber Placement", Unit: "ft", Rate: mustDecimal("0.35")},
	{LineItemCode: "STRAND_PLACEMENT", Description: "Strand Placement", Unit: "ft", Rate: mustDecimal("0.25")},
	{LineItemCode: "OVERLASH", Description: "Fiber Overlash", Unit: "ft", Rate: mustDecimal("0.30")},
	{LineItemCode: "ANCHOR_INSTALL", Description: "Down Guy / Anchor Assembly Installation", Unit: "each", Rate: mustDecimal("18.00")},
	{LineItemCode: "COIL_INSTALL", Description: "Slack Coil Installation", Unit: "each", Rate: mustDecimal("25.00")},
	{LineItemCode: "SNOWSHOE_INSTALL", Description: "Snowshoe (Emergency Reserve) Installation", Unit: "each", Rate: mustDecimal("15.00")},
}

// Run seeds the demo contractor rate card once. Production environments and
// already-seeded databases are left untouched.
func Run(ctx context.Context, cfg config.Config, db *gorm.DB, rates ratecarddomain.Service, log *zap.Logger) error {
	log = log.Named("seed")
	if cfg.IsProduction() {
		log.Debug("seeding skipped in production")
		return nil
	}

	var count int64
	err := db.WithContext(ctx).Model(&ratecarddomain.RateCard{}).
		Where("contractor = ?", demoContractor).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("seed precheck: %w", err)
	}
	if count > 0 {
		return nil
	}

	ctx = auditcontext.WithActor(ctx, auditcontext.Actor{
		Type: auditcontext.ActorTypeSystem,
		ID:   "seed",
		Role: authorization.RoleBillingAdmin,
	})
	card, err := rates.Create(ctx, ratecarddomain.CreateRequest{
		Name:          "Demo Fiber Co Standard Rates",
		Description:   "Development seed card",
		Contractor:    demoContractor,
		EffectiveFrom: "2024-01-01",
		Entries:       demoEntries,
		ChangeNotes:   "initial seed",
	})
	if err != nil {
		return fmt.Errorf("seed rate card: %w", err)
	}
	log.Info("demo rate card seeded",
		zap.String("rate_card_id", card.ID),
		zap.String("contractor", demoContractor),
	)
	return nil
}

// Module hooks seeding into application start.
var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, rates ratecarddomain.Service, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Run(ctx, cfg, db, rates, log)
			},
		})
	}),
)
