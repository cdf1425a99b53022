package unlocks

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opEngineNew        = "unlocks.engine.new"
	opCheckAndUnlock   = "unlocks.check_and_unlock"
	opCheckRequirement = "unlocks.check_requirement_unlock"
	opCheckOverlap     = "unlocks.check_overlap_unlock"
	opIsUnlocked       = "unlocks.is_unlocked"
	opListUnlocked     = "unlocks.list_unlocked"
	fieldMediaID       = "media_id"
	fieldStrategy      = "strategy"
	queryUserMedia     = fieldUserID + " = ? AND " + fieldMediaID + " = ?"
)

var (
	errMissingTracker = errors.New("progress tracker is required")
	// ErrUnsupportedStrategy indicates a nil or unknown strategy value.
	ErrUnsupportedStrategy = errors.New("unlocks: unsupported strategy")
	// ErrMissingMediaProvider indicates the engine was built without a media provider.
	ErrMissingMediaProvider = errors.New("unlocks: media provider not configured")
	// ErrMissingWatchHistory indicates the engine was built without a watch history source.
	ErrMissingWatchHistory = errors.New("unlocks: watch history not configured")
)

// MediaProvider supplies the requirement lists and tags of catalog media.
type MediaProvider interface {
	Requirements(ctx context.Context, targetMediaID domain.MediaID) ([]domain.MediaID, error)
	Tags(ctx context.Context, mediaID domain.MediaID) (media.Tags, error)
	TagsFor(ctx context.Context, mediaIDs []domain.MediaID) (media.Tags, error)
}

// WatchHistory supplies every media a user has watched.
type WatchHistory interface {
	WatchedMediaIDs(ctx context.Context, userID domain.UserID) ([]domain.MediaID, error)
}

// EngineConfig describes the engine dependencies. Media and History are only
// needed by the CheckRequirementUnlock and CheckOverlapUnlock helpers.
type EngineConfig struct {
	Database *gorm.DB
	Tracker  *Tracker
	Media    MediaProvider
	History  WatchHistory
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Engine decides and commits permanent unlocks.
type Engine struct {
	db       *gorm.DB
	tracker  *Tracker
	media    MediaProvider
	history  WatchHistory
	clock    func() time.Time
	reporter serviceerr.Reporter
}

// NewEngine constructs the decision engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opEngineNew, "missing_database", errMissingDatabase)
	}
	if cfg.Tracker == nil {
		return nil, serviceerr.New(opEngineNew, "missing_tracker", errMissingTracker)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		db:       cfg.Database,
		tracker:  cfg.Tracker,
		media:    cfg.Media,
		history:  cfg.History,
		clock:    clock,
		reporter: serviceerr.NewReporter(cfg.Logger, "unlock engine error"),
	}, nil
}

// CheckAndUnlock evaluates the strategy for the pair and, on success, adds the
// media to the user's unlocked set and clears the pair's progress record.
// Media that is already unlocked reports success without evaluation; a commit
// that loses a race against a concurrent call reports the same success.
func (e *Engine) CheckAndUnlock(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID, strategy Strategy) (Decision, error) {
	if e == nil || e.db == nil {
		return Decision{}, serviceerr.New(opCheckAndUnlock, "missing_database", errMissingDatabase)
	}
	if strategy == nil {
		return Decision{Reason: reasonUnsupportedStrategy}, serviceerr.New(opCheckAndUnlock, "unsupported_strategy", ErrUnsupportedStrategy)
	}
	logFields := []zap.Field{
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldMediaID, targetMediaID.String()),
		zap.String(fieldStrategy, string(strategy.Kind())),
	}

	var decision Decision
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unlocked, err := e.isUnlocked(tx, userID, targetMediaID)
		if err != nil {
			return e.reporter.Fail(opCheckAndUnlock, "unlocked_lookup_failed", err, logFields...)
		}
		if unlocked {
			decision = Decision{
				Unlocked:        true,
				AlreadyUnlocked: true,
				Strategy:        strategy.Kind(),
				Reason:          reasonAlreadyUnlocked,
			}
			return nil
		}

		evalCtx := evaluationContext{}
		if _, ok := strategy.(RequirementList); ok {
			watched, err := e.tracker.watchedSet(tx, userID, targetMediaID)
			if err != nil {
				return e.reporter.Fail(opCheckAndUnlock, "watched_lookup_failed", err, logFields...)
			}
			evalCtx.watchedRequirements = watched
		}

		decision = evaluate(strategy, evalCtx)
		if !decision.Unlocked {
			return nil
		}

		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&UnlockedMedia{
			UserID:            userID.String(),
			MediaID:           targetMediaID.String(),
			Strategy:          strategy.Kind(),
			UnlockedAtSeconds: e.clock().UTC().Unix(),
		})
		if insert.Error != nil {
			return e.reporter.Fail(opCheckAndUnlock, "insert_failed", insert.Error, logFields...)
		}
		if insert.RowsAffected == 0 {
			decision.AlreadyUnlocked = true
		} else {
			decision.NewlyUnlocked = true
		}

		return e.tracker.ClearTx(tx, userID, targetMediaID)
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// CheckRequirementUnlock runs CheckAndUnlock with the catalog's requirement list for the target.
func (e *Engine) CheckRequirementUnlock(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID) (Decision, error) {
	if e == nil || e.media == nil {
		return Decision{}, serviceerr.New(opCheckRequirement, "missing_media_provider", ErrMissingMediaProvider)
	}
	requirements, err := e.media.Requirements(ctx, targetMediaID)
	if err != nil {
		return Decision{}, e.reporter.Fail(opCheckRequirement, "requirements_lookup_failed", err,
			zap.String(fieldMediaID, targetMediaID.String()))
	}
	return e.CheckAndUnlock(ctx, userID, targetMediaID, RequirementList{RequirementIDs: requirements})
}

// CheckOverlapUnlock runs CheckAndUnlock with the tags of the user's watch history and of the target.
func (e *Engine) CheckOverlapUnlock(ctx context.Context, userID domain.UserID, targetMediaID domain.MediaID) (Decision, error) {
	if e == nil || e.media == nil {
		return Decision{}, serviceerr.New(opCheckOverlap, "missing_media_provider", ErrMissingMediaProvider)
	}
	if e.history == nil {
		return Decision{}, serviceerr.New(opCheckOverlap, "missing_watch_history", ErrMissingWatchHistory)
	}
	logFields := []zap.Field{
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldMediaID, targetMediaID.String()),
	}
	watchedIDs, err := e.history.WatchedMediaIDs(ctx, userID)
	if err != nil {
		return Decision{}, e.reporter.Fail(opCheckOverlap, "history_lookup_failed", err, logFields...)
	}
	watchedTags, err := e.media.TagsFor(ctx, watchedIDs)
	if err != nil {
		return Decision{}, e.reporter.Fail(opCheckOverlap, "history_tags_failed", err, logFields...)
	}
	targetTags, err := e.media.Tags(ctx, targetMediaID)
	if err != nil {
		return Decision{}, e.reporter.Fail(opCheckOverlap, "target_tags_failed", err, logFields...)
	}
	return e.CheckAndUnlock(ctx, userID, targetMediaID, CategoryOverlap{WatchedMediaIDs: watchedIDs, Watched: watchedTags, Target: targetTags})
}

// IsUnlocked reports whether the media is in the user's unlocked set.
func (e *Engine) IsUnlocked(ctx context.Context, userID domain.UserID, mediaID domain.MediaID) (bool, error) {
	if e == nil || e.db == nil {
		return false, serviceerr.New(opIsUnlocked, "missing_database", errMissingDatabase)
	}
	unlocked, err := e.isUnlocked(e.db.WithContext(ctx), userID, mediaID)
	if err != nil {
		return false, e.reporter.Fail(opIsUnlocked, "query_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldMediaID, mediaID.String()))
	}
	return unlocked, nil
}

// IsUnlockedTx performs IsUnlocked inside a caller-owned transaction.
func (e *Engine) IsUnlockedTx(tx *gorm.DB, userID domain.UserID, mediaID domain.MediaID) (bool, error) {
	return e.isUnlocked(tx, userID, mediaID)
}

// ListUnlocked returns the user's unlocked set, oldest unlock first.
func (e *Engine) ListUnlocked(ctx context.Context, userID domain.UserID) ([]Unlocked, error) {
	if e == nil || e.db == nil {
		return nil, serviceerr.New(opListUnlocked, "missing_database", errMissingDatabase)
	}
	var rows []UnlockedMedia
	if err := e.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order("unlocked_at_s ASC, media_id ASC").
		Find(&rows).Error; err != nil {
		return nil, e.reporter.Fail(opListUnlocked, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}
	unlocked := make([]Unlocked, 0, len(rows))
	for _, row := range rows {
		unlocked = append(unlocked, Unlocked{
			MediaID:    domain.MediaID(row.MediaID),
			Strategy:   row.Strategy,
			UnlockedAt: secondsToTime(row.UnlockedAtSeconds),
		})
	}
	return unlocked, nil
}

func (e *Engine) isUnlocked(db *gorm.DB, userID domain.UserID, mediaID domain.MediaID) (bool, error) {
	var count int64
	if err := db.Model(&UnlockedMedia{}).
		Where(queryUserMedia, userID.String(), mediaID.String()).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
