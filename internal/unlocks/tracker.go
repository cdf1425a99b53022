package unlocks

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opTrackerNew        = "unlocks.tracker.new"
	opRecordRequirement = "unlocks.record_requirement"
	opGetProgress       = "unlocks.get_progress"
	opListInProgress    = "unlocks.list_in_progress"
	opClearProgress     = "unlocks.clear_progress"
	fieldUserID         = "user_id"
	fieldTargetMediaID  = "target_media_id"
	queryUserID         = fieldUserID + " = ?"
	queryUserTarget     = fieldUserID + " = ? AND " + fieldTargetMediaID + " = ?"
)

var errMissingDatabase = errors.New("database handle is required")

// TrackerConfig describes the tracker dependencies.
type TrackerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Tracker records which requirement videos a user watched for each locked target.
type Tracker struct {
	db       *gorm.DB
	clock    func() time.Time
	reporter serviceerr.Reporter
}

// NewTracker constructs the progress tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opTrackerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		db:       cfg.Database,
		clock:    clock,
		reporter: serviceerr.NewReporter(cfg.Logger, "unlock tracker error"),
	}, nil
}

// RecordRequirementWatched adds the requirement to the watched set of the pair
// and recomputes the progress percentage from the stored set.
func (t *Tracker) RecordRequirementWatched(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID, requirementID domain.MediaID, totalRequired int) (Progress, error) {
	if t == nil || t.db == nil {
		return Progress{}, serviceerr.New(opRecordRequirement, "missing_database", errMissingDatabase)
	}
	var progress Progress
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		progress, txErr = t.RecordRequirementWatchedTx(tx, userID, targetMediaID, requirementID, totalRequired)
		return txErr
	})
	if err != nil {
		return Progress{}, err
	}
	return progress, nil
}

// RecordRequirementWatchedTx performs RecordRequirementWatched inside a caller-owned transaction.
func (t *Tracker) RecordRequirementWatchedTx(tx *gorm.DB, userID domain.UserID, targetMediaID domain.MediaID, requirementID domain.MediaID, totalRequired int) (Progress, error) {
	nowSeconds := t.clock().UTC().Unix()
	logFields := []zap.Field{
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldTargetMediaID, targetMediaID.String()),
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ProgressRecord{
		UserID:                userID.String(),
		TargetMediaID:         targetMediaID.String(),
		TotalRequired:         totalRequired,
		ProgressPercentage:    0,
		StartedAtSeconds:      nowSeconds,
		LastActivityAtSeconds: nowSeconds,
	}).Error; err != nil {
		return Progress{}, t.reporter.Fail(opRecordRequirement, "progress_insert_failed", err, logFields...)
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&WatchedRequirement{
		UserID:           userID.String(),
		TargetMediaID:    targetMediaID.String(),
		RequirementID:    requirementID.String(),
		WatchedAtSeconds: nowSeconds,
	}).Error; err != nil {
		return Progress{}, t.reporter.Fail(opRecordRequirement, "requirement_insert_failed", err, logFields...)
	}

	var watchedCount int64
	if err := tx.Model(&WatchedRequirement{}).
		Where(queryUserTarget, userID.String(), targetMediaID.String()).
		Count(&watchedCount).Error; err != nil {
		return Progress{}, t.reporter.Fail(opRecordRequirement, "requirement_count_failed", err, logFields...)
	}

	if err := tx.Model(&ProgressRecord{}).
		Where(queryUserTarget, userID.String(), targetMediaID.String()).
		Updates(map[string]any{
			"total_required":      totalRequired,
			"progress_percentage": PercentageFor(int(watchedCount), totalRequired),
			"last_activity_at_s":  nowSeconds,
		}).Error; err != nil {
		return Progress{}, t.reporter.Fail(opRecordRequirement, "progress_update_failed", err, logFields...)
	}

	progress, err := t.loadProgress(tx, userID, targetMediaID)
	if err != nil {
		return Progress{}, t.reporter.Fail(opRecordRequirement, "progress_reload_failed", err, logFields...)
	}
	return progress, nil
}

// GetProgress returns the pair's progress, or the zero state when nothing was recorded.
func (t *Tracker) GetProgress(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID) (Progress, error) {
	if t == nil || t.db == nil {
		return Progress{}, serviceerr.New(opGetProgress, "missing_database", errMissingDatabase)
	}
	progress, err := t.loadProgress(t.db.WithContext(ctx), userID, targetMediaID)
	if err != nil {
		return Progress{}, t.reporter.Fail(opGetProgress, "query_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldTargetMediaID, targetMediaID.String()))
	}
	return progress, nil
}

// ListInProgress returns the targets strictly between 0% and 100%, most recently active first.
func (t *Tracker) ListInProgress(ctx context.Context, userID domain.UserID) ([]InProgressItem, error) {
	if t == nil || t.db == nil {
		return nil, serviceerr.New(opListInProgress, "missing_database", errMissingDatabase)
	}
	var records []ProgressRecord
	if err := t.db.WithContext(ctx).
		Where(queryUserID+" AND progress_percentage > ? AND progress_percentage < ?", userID.String(), 0, 100).
		Find(&records).Error; err != nil {
		return nil, t.reporter.Fail(opListInProgress, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}

	sort.SliceStable(records, func(left, right int) bool {
		if records[left].LastActivityAtSeconds != records[right].LastActivityAtSeconds {
			return records[left].LastActivityAtSeconds > records[right].LastActivityAtSeconds
		}
		return records[left].TargetMediaID < records[right].TargetMediaID
	})

	items := make([]InProgressItem, 0, len(records))
	for _, record := range records {
		items = append(items, InProgressItem{
			TargetMediaID:      domain.MediaID(record.TargetMediaID),
			ProgressPercentage: record.ProgressPercentage,
			LastActivityAt:     secondsToTime(record.LastActivityAtSeconds),
		})
	}
	return items, nil
}

// Clear deletes the pair's progress record and its watched set.
func (t *Tracker) Clear(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID) error {
	if t == nil || t.db == nil {
		return serviceerr.New(opClearProgress, "missing_database", errMissingDatabase)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return t.ClearTx(tx, userID, targetMediaID)
	})
}

// ClearTx performs Clear inside a caller-owned transaction.
func (t *Tracker) ClearTx(tx *gorm.DB, userID domain.UserID, targetMediaID domain.MediaID) error {
	if err := tx.Where(queryUserTarget, userID.String(), targetMediaID.String()).
		Delete(&WatchedRequirement{}).Error; err != nil {
		return t.reporter.Fail(opClearProgress, "requirements_delete_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldTargetMediaID, targetMediaID.String()))
	}
	if err := tx.Where(queryUserTarget, userID.String(), targetMediaID.String()).
		Delete(&ProgressRecord{}).Error; err != nil {
		return t.reporter.Fail(opClearProgress, "progress_delete_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldTargetMediaID, targetMediaID.String()))
	}
	return nil
}

func (t *Tracker) loadProgress(db *gorm.DB, userID domain.UserID, targetMediaID domain.MediaID) (Progress, error) {
	var record ProgressRecord
	err := db.Where(queryUserTarget, userID.String(), targetMediaID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Progress{TargetMediaID: targetMediaID, WatchedRequirementIDs: []domain.MediaID{}}, nil
	}
	if err != nil {
		return Progress{}, err
	}

	watched, err := t.watchedSet(db, userID, targetMediaID)
	if err != nil {
		return Progress{}, err
	}
	ids := make([]domain.MediaID, 0, len(watched))
	for id := range watched {
		ids = append(ids, domain.MediaID(id))
	}
	sort.Slice(ids, func(left, right int) bool { return ids[left] < ids[right] })

	return Progress{
		TargetMediaID:         targetMediaID,
		ProgressPercentage:    record.ProgressPercentage,
		TotalRequired:         record.TotalRequired,
		WatchedRequirementIDs: ids,
		StartedAt:             secondsToTime(record.StartedAtSeconds),
		LastActivityAt:        secondsToTime(record.LastActivityAtSeconds),
	}, nil
}

func (t *Tracker) watchedSet(db *gorm.DB, userID domain.UserID, targetMediaID domain.MediaID) (map[string]struct{}, error) {
	var rows []WatchedRequirement
	if err := db.Where(queryUserTarget, userID.String(), targetMediaID.String()).Find(&rows).Error; err != nil {
		return nil, err
	}
	watched := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		watched[row.RequirementID] = struct{}{}
	}
	return watched, nil
}
