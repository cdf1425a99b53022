package activity

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opWatchedMedia       = "activity.watched_media"
	opSumWatchSeconds    = "activity.sum_watch_seconds"
	opUsersWithHistory   = "activity.users_with_history"
	opSince              = "activity.since"
	queryUserWatch       = "user_id = ? AND activity_type = ?"
	queryOccurredAtSince = "occurred_at_s >= ?"
)

// History answers read-only questions about recorded activity.
type History struct {
	db       *gorm.DB
	reporter serviceerr.Reporter
}

// NewHistory binds the history queries to the database.
func NewHistory(db *gorm.DB, logger *zap.Logger) *History {
	return &History{db: db, reporter: serviceerr.NewReporter(logger, "activity history error")}
}

// WatchedMediaIDs returns every distinct media the user has watched, sorted.
func (h *History) WatchedMediaIDs(ctx context.Context, userID domain.UserID) ([]domain.MediaID, error) {
	var rawIDs []string
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryUserWatch+" AND media_id <> ''", userID.String(), TypeWatch).
		Distinct("media_id").
		Order("media_id ASC").
		Pluck("media_id", &rawIDs).Error; err != nil {
		return nil, h.reporter.Fail(opWatchedMedia, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}
	ids := make([]domain.MediaID, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		ids = append(ids, domain.MediaID(rawID))
	}
	return ids, nil
}

// SumWatchSeconds returns the total duration of the user's watch activity.
func (h *History) SumWatchSeconds(ctx context.Context, userID domain.UserID) (int64, error) {
	var total int64
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryUserWatch, userID.String(), TypeWatch).
		Select("COALESCE(SUM(duration_s), 0)").
		Scan(&total).Error; err != nil {
		return 0, h.reporter.Fail(opSumWatchSeconds, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}
	return total, nil
}

// UsersWithHistory returns every user with at least one watch activity.
func (h *History) UsersWithHistory(ctx context.Context) ([]domain.UserID, error) {
	var rawIDs []string
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where("activity_type = ?", TypeWatch).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &rawIDs).Error; err != nil {
		return nil, h.reporter.Fail(opUsersWithHistory, "query_failed", err)
	}
	ids := make([]domain.UserID, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		ids = append(ids, domain.UserID(rawID))
	}
	return ids, nil
}

type userDuration struct {
	UserID  string
	Seconds int64
}

// Since returns the activity seconds of every type per user from windowStart
// on. A zero windowStart covers the whole history.
func (h *History) Since(ctx context.Context, windowStart time.Time) (map[string]int64, error) {
	query := h.db.WithContext(ctx).Model(&Record{})
	if !windowStart.IsZero() {
		query = query.Where(queryOccurredAtSince, windowStart.UTC().Unix())
	}
	var rows []userDuration
	if err := query.
		Select("user_id AS user_id, COALESCE(SUM(duration_s), 0) AS seconds").
		Group("user_id").
		Scan(&rows).Error; err != nil {
		return nil, h.reporter.Fail(opSince, "query_failed", err)
	}
	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.UserID] = row.Seconds
	}
	return totals, nil
}
