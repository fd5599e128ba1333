// Package migration applies the embedded SQL schema.
package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// appliedMigration tracks which files already ran.
type appliedMigration struct {
	Name      string    `gorm:"primaryKey;type:text"`
	AppliedAt time.Time `gorm:"not null"`
}

func (appliedMigration) TableName() string { return "schema_migrations" }

// RunMigrations applies every embedded *.up.sql file, in name order, that has
// not run before. Each file runs inside its own transaction.
func RunMigrations(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	if err := db.WithContext(ctx).AutoMigrate(&appliedMigration{}); err != nil {
		return fmt.Errorf("migration bookkeeping: %w", err)
	}

	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var count int64
		err := db.WithContext(ctx).Model(&appliedMigration{}).
			Where("name = ?", name).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		script, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// One statement per Exec; multi-statement scripts are not
			// portable across drivers.
			for _, statement := range strings.Split(string(script), ";") {
				statement = strings.TrimSpace(statement)
				if statement == "" {
					continue
				}
				if err := tx.Exec(statement).Error; err != nil {
					return fmt.Errorf("apply %s: %w", name, err)
				}
			}
			return tx.Create(&appliedMigration{Name: name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return err
		}
		log.Info("migration applied", zap.String("name", name))
	}
	return nil
}

// Module applies migrations during application start, before the seed and
// server hooks run.
var Module = fx.Module("migration",
	fx.Invoke(func(lc fx.Lifecycle, db *gorm.DB, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return RunMigrations(ctx, db, log)
			},
		})
	}),
)
