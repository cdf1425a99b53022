// Package ranking builds leaderboards from an explicit snapshot of player
// stats. The ordering functions are pure; Service assembles the snapshot.
package ranking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortKey selects the stat RankBy orders by.
type SortKey string

const (
	SortLevel        SortKey = "level"
	SortXP           SortKey = "xp"
	SortCollectibles SortKey = "collectibles"
	SortWatchHours   SortKey = "watchHours"
)

// Period selects the activity window of a scoped ranking.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// ScopeKind selects which entries a scoped ranking considers.
type ScopeKind string

const (
	ScopeNational ScopeKind = "national"
	ScopeState    ScopeKind = "state"
	ScopeCity     ScopeKind = "city"
)

var (
	// ErrInvalidScope indicates a scope other than national, state:S, or city:C.
	ErrInvalidScope = errors.New("ranking: invalid scope")
	// ErrInvalidPeriod indicates a period other than week, month, or all.
	ErrInvalidPeriod = errors.New("ranking: invalid period")
)

// Scope is a national, state, or city filter.
type Scope struct {
	Kind  ScopeKind
	Value string
}

// National is the unfiltered scope.
var National = Scope{Kind: ScopeNational}

func (s Scope) String() string {
	if s.Kind == ScopeNational || s.Kind == "" {
		return string(ScopeNational)
	}
	return string(s.Kind) + ":" + s.Value
}

// Includes reports whether the entry belongs to the scope. Matching is exact.
func (s Scope) Includes(entry Entry) bool {
	switch s.Kind {
	case ScopeState:
		return entry.State == s.Value
	case ScopeCity:
		return entry.City == s.Value
	default:
		return true
	}
}

// Entry is the computed ranking projection of one player.
type Entry struct {
	UserID                string `json:"user_id"`
	Level                 int    `json:"level"`
	XP                    int64  `json:"xp"`
	CollectiblesCount     int64  `json:"collectibles_count"`
	TotalWatchTimeSeconds int64  `json:"total_watch_time_seconds"`
	State                 string `json:"state,omitempty"`
	City                  string `json:"city,omitempty"`
}

// Snapshot is the input of every ranking query: the entries plus the activity
// seconds each user accumulated inside the requested window.
type Snapshot struct {
	Entries       []Entry
	WindowSeconds map[string]int64
}

// Standing is one ranked row.
type Standing struct {
	Rank          int   `json:"rank"`
	Entry         Entry `json:"entry"`
	WindowSeconds int64 `json:"window_seconds"`
}

// ParseSortKey accepts any key; RankBy treats unknown keys as level.
func ParseSortKey(raw string) SortKey {
	return SortKey(strings.TrimSpace(raw))
}

// ParsePeriod parses week, month, or all. An empty value means all.
func ParsePeriod(raw string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PeriodAll:
		return PeriodAll, nil
	case PeriodWeek:
		return PeriodWeek, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
}

// ParseScope parses national, state:S, or city:C. An empty value means national.
func ParseScope(raw string) (Scope, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, string(ScopeNational)) {
		return National, nil
	}
	kind, value, found := strings.Cut(trimmed, ":")
	value = strings.TrimSpace(value)
	if !found || value == "" {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	switch ScopeKind(strings.ToLower(strings.TrimSpace(kind))) {
	case ScopeState:
		return Scope{Kind: ScopeState, Value: value}, nil
	case ScopeCity:
		return Scope{Kind: ScopeCity, Value: value}, nil
	default:
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

// WindowStart returns the beginning of the period's activity window. The zero
// time stands for an unbounded past.
func WindowStart(period Period, now time.Time) time.Time {
	switch period {
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// RankBy orders entries by the key, descending. Entries with equal values keep
// their input order; there is no secondary key.
func RankBy(entries []Entry, key SortKey) []Entry {
	ranked := append([]Entry(nil), entries...)
	value := sortValue(key)
	sort.SliceStable(ranked, func(left, right int) bool {
		return value(ranked[left]) > value(ranked[right])
	})
	return ranked
}

func sortValue(key SortKey) func(Entry) int64 {
	switch key {
	case SortXP:
		return func(entry Entry) int64 { return entry.XP }
	case SortCollectibles:
		return func(entry Entry) int64 { return entry.CollectiblesCount }
	case SortWatchHours:
		return func(entry Entry) int64 { return entry.TotalWatchTimeSeconds }
	default:
		return func(entry Entry) int64 { return int64(entry.Level) }
	}
}

// TopN returns at most n leading elements. A non-positive n keeps every element.
func TopN[T any](items []T, n int) []T {
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	return append([]T(nil), items[:n]...)
}

// ScopedRanking filters the snapshot by scope and orders it by window activity
// seconds, then by xp. Users without activity in the window rank last.
func ScopedRanking(snapshot Snapshot, scope Scope) []Standing {
	standings := make([]Standing, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		if !scope.Includes(entry) {
			continue
		}
		standings = append(standings, Standing{Entry: entry, WindowSeconds: snapshot.WindowSeconds[entry.UserID]})
	}
	sort.SliceStable(standings, func(left, right int) bool {
		if standings[left].WindowSeconds != standings[right].WindowSeconds {
			return standings[left].WindowSeconds > standings[right].WindowSeconds
		}
		return standings[left].Entry.XP > standings[right].Entry.XP
	})
	assignRanks(standings)
	return standings
}

// SortedRanking filters the snapshot by scope and orders it with RankBy.
func SortedRanking(snapshot Snapshot, scope Scope, key SortKey) []Standing {
	filtered := make([]Entry, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		if scope.Includes(entry) {
			filtered = append(filtered, entry)
		}
	}
	ranked := RankBy(filtered, key)
	standings := make([]Standing, 0, len(ranked))
	for _, entry := range ranked {
		standings = append(standings, Standing{Entry: entry, WindowSeconds: snapshot.WindowSeconds[entry.UserID]})
	}
	assignRanks(standings)
	return standings
}

// FindRank returns the 1-based scoped rank of the user, or false when the user
// has no entry in the scope.
func FindRank(snapshot Snapshot, userID string, scope Scope) (Standing, bool) {
	for _, standing := range ScopedRanking(snapshot, scope) {
		if standing.Entry.UserID == userID {
			return standing, true
		}
	}
	return Standing{}, false
}

func assignRanks(standings []Standing) {
	for index := range standings {
		standings[index].Rank = index + 1
	}
}
