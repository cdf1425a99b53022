package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/watchtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillWatchTimeLedger = "2026-10-01_backfill_watch_time_ledger"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(context.Context, *gorm.DB, *zap.Logger) error
}

func applyMigrations(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillWatchTimeLedger, apply: backfillWatchTimeLedger},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.WithContext(ctx).Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(ctx, db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.WithContext(ctx).Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillWatchTimeLedger raises every ledger total to the sum of the user's
// recorded watch activity. Totals are never lowered.
func backfillWatchTimeLedger(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	ledger, err := watchtime.NewLedger(watchtime.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	raised, err := ledger.BackfillAll(ctx, activity.NewHistory(db, logger))
	if err != nil {
		return err
	}
	logger.Info("watch time ledger backfilled", zap.Int("raised", raised))
	return nil
}
