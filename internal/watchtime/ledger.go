// Package watchtime maintains the cumulative per-user watch-time ledger.
package watchtime

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opNewLedger   = "watchtime.new"
	opGetOrCreate = "watchtime.get_or_create"
	opAddSeconds  = "watchtime.add_seconds"
	opBackfill    = "watchtime.backfill"
	opBackfillAll = "watchtime.backfill_all"
	opTotals      = "watchtime.totals"
	fieldUserID   = "user_id"
	queryUserID   = fieldUserID + " = ?"
)

var errMissingDatabase = errors.New("database handle is required")

// Entry is the persisted ledger row for one user.
type Entry struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	TotalSeconds     int64  `gorm:"column:total_seconds;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "watch_time_ledger"
}

// Increment reports the ledger totals around one AddSeconds call.
type Increment struct {
	PreviousSeconds int64
	TotalSeconds    int64
}

// WatchHistory supplies the historical watch durations used by backfills.
type WatchHistory interface {
	SumWatchSeconds(ctx context.Context, userID domain.UserID) (int64, error)
	UsersWithHistory(ctx context.Context) ([]domain.UserID, error)
}

// LedgerConfig describes the ledger dependencies.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger tracks cumulative seconds watched per user.
type Ledger struct {
	db       *gorm.DB
	clock    func() time.Time
	reporter serviceerr.Reporter
}

// NewLedger constructs a ledger bound to the provided database.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opNewLedger, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		db:       cfg.Database,
		clock:    clock,
		reporter: serviceerr.NewReporter(cfg.Logger, "watch time ledger error"),
	}, nil
}

// GetOrCreate returns the ledger entry for the user, creating a zero entry when absent.
func (l *Ledger) GetOrCreate(ctx context.Context, userID domain.UserID) (Entry, error) {
	if l == nil || l.db == nil {
		return Entry{}, serviceerr.New(opGetOrCreate, "missing_database", errMissingDatabase)
	}
	var entry Entry
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureEntry(tx, userID); err != nil {
			return l.reporter.Fail(opGetOrCreate, "entry_insert_failed", err, zap.String(fieldUserID, userID.String()))
		}
		if err := tx.Where(queryUserID, userID.String()).Take(&entry).Error; err != nil {
			return l.reporter.Fail(opGetOrCreate, "entry_select_failed", err, zap.String(fieldUserID, userID.String()))
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// AddSeconds atomically adds watched seconds to the user's total.
// Repeated reports of the same viewing session are all counted.
func (l *Ledger) AddSeconds(ctx context.Context, userID domain.UserID, seconds int64) (Increment, error) {
	if l == nil || l.db == nil {
		return Increment{}, serviceerr.New(opAddSeconds, "missing_database", errMissingDatabase)
	}
	var increment Increment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var addErr error
		increment, addErr = l.AddSecondsTx(tx, userID, seconds)
		return addErr
	})
	if err != nil {
		return Increment{}, err
	}
	return increment, nil
}

// AddSecondsTx performs AddSeconds inside a caller-owned transaction.
func (l *Ledger) AddSecondsTx(tx *gorm.DB, userID domain.UserID, seconds int64) (Increment, error) {
	if err := l.ensureEntry(tx, userID); err != nil {
		return Increment{}, l.reporter.Fail(opAddSeconds, "entry_insert_failed", err, zap.String(fieldUserID, userID.String()))
	}

	var before Entry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryUserID, userID.String()).
		Take(&before).Error; err != nil {
		return Increment{}, l.reporter.Fail(opAddSeconds, "entry_select_failed", err, zap.String(fieldUserID, userID.String()))
	}
	if seconds <= 0 {
		return Increment{PreviousSeconds: before.TotalSeconds, TotalSeconds: before.TotalSeconds}, nil
	}

	update := tx.Model(&Entry{}).
		Where(queryUserID, userID.String()).
		Updates(map[string]any{
			"total_seconds": gorm.Expr("total_seconds + ?", seconds),
			"updated_at_s":  l.clock().UTC().Unix(),
		})
	if update.Error != nil {
		return Increment{}, l.reporter.Fail(opAddSeconds, "entry_update_failed", update.Error, zap.String(fieldUserID, userID.String()))
	}

	return Increment{
		PreviousSeconds: before.TotalSeconds,
		TotalSeconds:    before.TotalSeconds + seconds,
	}, nil
}

// Backfill recomputes the user's total from watch history and raises the stored
// value when the computed sum is larger. The stored value is never lowered.
func (l *Ledger) Backfill(ctx context.Context, userID domain.UserID, history WatchHistory) (Entry, error) {
	if l == nil || l.db == nil {
		return Entry{}, serviceerr.New(opBackfill, "missing_database", errMissingDatabase)
	}
	computed, err := history.SumWatchSeconds(ctx, userID)
	if err != nil {
		return Entry{}, l.reporter.Fail(opBackfill, "history_sum_failed", err, zap.String(fieldUserID, userID.String()))
	}

	var entry Entry
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ratchetErr error
		entry, ratchetErr = l.ratchetTx(tx, userID, computed)
		return ratchetErr
	})
	if txErr != nil {
		return Entry{}, txErr
	}
	return entry, nil
}

// BackfillAll runs Backfill for every user with watch history and reports how many entries were raised.
func (l *Ledger) BackfillAll(ctx context.Context, history WatchHistory) (int, error) {
	if l == nil || l.db == nil {
		return 0, serviceerr.New(opBackfillAll, "missing_database", errMissingDatabase)
	}
	userIDs, err := history.UsersWithHistory(ctx)
	if err != nil {
		return 0, l.reporter.Fail(opBackfillAll, "history_users_failed", err)
	}
	raised := 0
	for _, userID := range userIDs {
		before, err := l.GetOrCreate(ctx, userID)
		if err != nil {
			return raised, err
		}
		after, err := l.Backfill(ctx, userID, history)
		if err != nil {
			return raised, err
		}
		if after.TotalSeconds > before.TotalSeconds {
			raised++
		}
	}
	return raised, nil
}

// Totals returns the stored totals for every user in one read.
func (l *Ledger) Totals(ctx context.Context) (map[string]int64, error) {
	if l == nil || l.db == nil {
		return nil, serviceerr.New(opTotals, "missing_database", errMissingDatabase)
	}
	var entries []Entry
	if err := l.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, l.reporter.Fail(opTotals, "query_failed", err)
	}
	totals := make(map[string]int64, len(entries))
	for _, entry := range entries {
		totals[entry.UserID] = entry.TotalSeconds
	}
	return totals, nil
}

func (l *Ledger) ratchetTx(tx *gorm.DB, userID domain.UserID, computed int64) (Entry, error) {
	if err := l.ensureEntry(tx, userID); err != nil {
		return Entry{}, l.reporter.Fail(opBackfill, "entry_insert_failed", err, zap.String(fieldUserID, userID.String()))
	}
	var entry Entry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryUserID, userID.String()).
		Take(&entry).Error; err != nil {
		return Entry{}, l.reporter.Fail(opBackfill, "entry_select_failed", err, zap.String(fieldUserID, userID.String()))
	}
	newTotal := max(entry.TotalSeconds, computed)
	if newTotal == entry.TotalSeconds {
		return entry, nil
	}
	entry.TotalSeconds = newTotal
	entry.UpdatedAtSeconds = l.clock().UTC().Unix()
	if err := tx.Save(&entry).Error; err != nil {
		return Entry{}, l.reporter.Fail(opBackfill, "entry_update_failed", err, zap.String(fieldUserID, userID.String()))
	}
	return entry, nil
}

func (l *Ledger) ensureEntry(tx *gorm.DB, userID domain.UserID) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Entry{
		UserID:           userID.String(),
		TotalSeconds:     0,
		UpdatedAtSeconds: l.clock().UTC().Unix(),
	}).Error
}
