package ranking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
)

const (
	opServiceNew = "ranking.service.new"
	opSnapshot   = "ranking.snapshot"
	defaultLimit = 50
	fieldPeriod  = "period"
)

var errMissingSource = errors.New("ranking source is required")

// ProgressSource lists every stored XP record.
type ProgressSource interface {
	Snapshot(ctx context.Context) ([]progression.UserProgress, error)
}

// WatchTotals lists the watch-time ledger totals.
type WatchTotals interface {
	Totals(ctx context.Context) (map[string]int64, error)
}

// PlayerStats supplies locations and collectible counts.
type PlayerStats interface {
	Locations(ctx context.Context) (map[string]players.Location, error)
	CardCounts(ctx context.Context) (map[string]int64, error)
}

// ActivityWindow sums activity seconds per user from a window start on.
type ActivityWindow interface {
	Since(ctx context.Context, windowStart time.Time) (map[string]int64, error)
}

// ServiceConfig describes the ranking service dependencies.
type ServiceConfig struct {
	Progress     ProgressSource
	WatchTime    WatchTotals
	Players      PlayerStats
	Activity     ActivityWindow
	DefaultLimit int
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service reads a fresh snapshot for every query.
type Service struct {
	progress     ProgressSource
	watchTime    WatchTotals
	players      PlayerStats
	activity     ActivityWindow
	defaultLimit int
	clock        func() time.Time
	reporter     serviceerr.Reporter
}

// NewService constructs the ranking service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Progress == nil || cfg.WatchTime == nil || cfg.Players == nil || cfg.Activity == nil {
		return nil, serviceerr.New(opServiceNew, "missing_source", errMissingSource)
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		progress:     cfg.Progress,
		watchTime:    cfg.WatchTime,
		players:      cfg.Players,
		activity:     cfg.Activity,
		defaultLimit: limit,
		clock:        clock,
		reporter:     serviceerr.NewReporter(cfg.Logger, "ranking service error"),
	}, nil
}

// GetRanking returns the top standings of the scope. An empty sort key selects
// the window activity ranking; any other key orders the scope with RankBy.
func (s *Service) GetRanking(ctx context.Context, scope Scope, period Period, key SortKey, limit int) ([]Standing, error) {
	snapshot, err := s.Snapshot(ctx, period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if key == "" {
		return TopN(ScopedRanking(snapshot, scope), limit), nil
	}
	return TopN(SortedRanking(snapshot, scope, key), limit), nil
}

// GetUserRank returns the user's standing in the scoped activity ranking.
func (s *Service) GetUserRank(ctx context.Context, userID domain.UserID, scope Scope, period Period) (Standing, bool, error) {
	snapshot, err := s.Snapshot(ctx, period)
	if err != nil {
		return Standing{}, false, err
	}
	standing, found := FindRank(snapshot, userID.String(), scope)
	return standing, found, nil
}

// Snapshot reads every stat source once and joins them by user id. The
// entries are ordered by user id so stable sorts are deterministic.
func (s *Service) Snapshot(ctx context.Context, period Period) (Snapshot, error) {
	logField := zap.String(fieldPeriod, string(period))
	progressRows, err := s.progress.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, s.reporter.Fail(opSnapshot, "progress_read_failed", err, logField)
	}
	watchTotals, err := s.watchTime.Totals(ctx)
	if err != nil {
		return Snapshot{}, s.reporter.Fail(opSnapshot, "watch_totals_failed", err, logField)
	}
	locations, err := s.players.Locations(ctx)
	if err != nil {
		return Snapshot{}, s.reporter.Fail(opSnapshot, "locations_failed", err, logField)
	}
	cardCounts, err := s.players.CardCounts(ctx)
	if err != nil {
		return Snapshot{}, s.reporter.Fail(opSnapshot, "card_counts_failed", err, logField)
	}
	windowSeconds, err := s.activity.Since(ctx, WindowStart(period, s.clock()))
	if err != nil {
		return Snapshot{}, s.reporter.Fail(opSnapshot, "activity_window_failed", err, logField)
	}

	entries := make(map[string]*Entry)
	entryFor := func(userID string) *Entry {
		entry, ok := entries[userID]
		if !ok {
			entry = &Entry{UserID: userID, Level: progression.LevelForXP(0)}
			entries[userID] = entry
		}
		return entry
	}
	for _, row := range progressRows {
		entry := entryFor(row.UserID)
		entry.XP = row.XP
		entry.Level = row.Level
	}
	for userID, seconds := range watchTotals {
		entryFor(userID).TotalWatchTimeSeconds = seconds
	}
	for userID, location := range locations {
		entry := entryFor(userID)
		entry.State = location.State
		entry.City = location.City
	}
	for userID, count := range cardCounts {
		entryFor(userID).CollectiblesCount = count
	}

	snapshot := Snapshot{Entries: make([]Entry, 0, len(entries)), WindowSeconds: windowSeconds}
	for _, entry := range entries {
		snapshot.Entries = append(snapshot.Entries, *entry)
	}
	sort.Slice(snapshot.Entries, func(left, right int) bool {
		return snapshot.Entries[left].UserID < snapshot.Entries[right].UserID
	})
	return snapshot, nil
}
