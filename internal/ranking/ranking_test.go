package ranking

import (
	"errors"
	"testing"
	"time"
)

func userIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.UserID)
	}
	return ids
}

func standingIDs(standings []Standing) []string {
	ids := make([]string, 0, len(standings))
	for _, standing := range standings {
		ids = append(ids, standing.Entry.UserID)
	}
	return ids
}

func assertOrder(t *testing.T, got []string, expected ...string) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for index := range expected {
		if got[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, got)
		}
	}
}

func TestRankByIsStableWithoutSecondaryKey(t *testing.T) {
	entries := []Entry{
		{UserID: "a", Level: 1, XP: 100},
		{UserID: "b", Level: 1, XP: 300},
		{UserID: "c", Level: 2, XP: 20100},
	}
	assertOrder(t, userIDs(RankBy(entries, SortLevel)), "c", "a", "b")
	assertOrder(t, userIDs(RankBy(entries, SortXP)), "c", "b", "a")
}

func TestRankByKeys(t *testing.T) {
	entries := []Entry{
		{UserID: "a", Level: 3, CollectiblesCount: 1, TotalWatchTimeSeconds: 50},
		{UserID: "b", Level: 1, CollectiblesCount: 9, TotalWatchTimeSeconds: 10},
		{UserID: "c", Level: 2, CollectiblesCount: 5, TotalWatchTimeSeconds: 900},
	}
	testCases := []struct {
		name     string
		key      SortKey
		expected []string
	}{
		{name: "collectibles", key: SortCollectibles, expected: []string{"b", "c", "a"}},
		{name: "watch hours", key: SortWatchHours, expected: []string{"c", "a", "b"}},
		{name: "unknown falls back to level", key: "popularity", expected: []string{"a", "c", "b"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assertOrder(t, userIDs(RankBy(entries, testCase.key)), testCase.expected...)
		})
	}
}

func TestRankByDoesNotMutateInput(t *testing.T) {
	entries := []Entry{{UserID: "a", XP: 1}, {UserID: "b", XP: 2}}
	RankBy(entries, SortXP)
	assertOrder(t, userIDs(entries), "a", "b")
}

func TestScopedRankingOrdersByWindowThenXP(t *testing.T) {
	snapshot := Snapshot{
		Entries: []Entry{
			{UserID: "idle-rich", XP: 90000, State: "CA", City: "Fresno"},
			{UserID: "active-low", XP: 10, State: "CA", City: "Fresno"},
			{UserID: "active-high", XP: 500, State: "CA", City: "Oakland"},
			{UserID: "elsewhere", XP: 1, State: "NV", City: "Reno"},
		},
		WindowSeconds: map[string]int64{"active-low": 600, "active-high": 600, "elsewhere": 9000},
	}

	national := ScopedRanking(snapshot, National)
	assertOrder(t, standingIDs(national), "elsewhere", "active-high", "active-low", "idle-rich")
	if national[0].Rank != 1 || national[3].Rank != 4 {
		t.Fatalf("expected 1-based ranks, got %+v", national)
	}

	state := ScopedRanking(snapshot, Scope{Kind: ScopeState, Value: "CA"})
	assertOrder(t, standingIDs(state), "active-high", "active-low", "idle-rich")

	city := ScopedRanking(snapshot, Scope{Kind: ScopeCity, Value: "Fresno"})
	assertOrder(t, standingIDs(city), "active-low", "idle-rich")
}

func TestScopedRankingEmptySnapshot(t *testing.T) {
	if standings := ScopedRanking(Snapshot{}, National); len(standings) != 0 {
		t.Fatalf("expected empty ranking, got %+v", standings)
	}
}

func TestFindRank(t *testing.T) {
	snapshot := Snapshot{
		Entries: []Entry{
			{UserID: "a", XP: 10, State: "CA"},
			{UserID: "b", XP: 20, State: "CA"},
			{UserID: "c", XP: 5, State: "NV"},
		},
		WindowSeconds: map[string]int64{"a": 100},
	}
	standing, found := FindRank(snapshot, "a", National)
	if !found || standing.Rank != 1 {
		t.Fatalf("expected first place, got %+v (found=%v)", standing, found)
	}
	standing, found = FindRank(snapshot, "c", National)
	if !found || standing.Rank != 3 {
		t.Fatalf("expected zero-activity user to be ranked last, got %+v", standing)
	}
	if _, found := FindRank(snapshot, "c", Scope{Kind: ScopeState, Value: "CA"}); found {
		t.Fatalf("expected user outside the scope to be missing")
	}
	if _, found := FindRank(Snapshot{}, "a", National); found {
		t.Fatalf("expected missing user in empty snapshot")
	}
}

func TestSortedRankingFiltersScope(t *testing.T) {
	snapshot := Snapshot{Entries: []Entry{
		{UserID: "a", Level: 1, State: "CA"},
		{UserID: "b", Level: 5, State: "NV"},
		{UserID: "c", Level: 3, State: "CA"},
	}}
	standings := SortedRanking(snapshot, Scope{Kind: ScopeState, Value: "CA"}, SortLevel)
	assertOrder(t, standingIDs(standings), "c", "a")
	if standings[1].Rank != 2 {
		t.Fatalf("expected rank 2, got %d", standings[1].Rank)
	}
}

func TestTopN(t *testing.T) {
	items := []int{1, 2, 3}
	if got := TopN(items, 2); len(got) != 2 {
		t.Fatalf("expected two items, got %v", got)
	}
	if got := TopN(items, 10); len(got) != 3 {
		t.Fatalf("expected all items, got %v", got)
	}
	for _, n := range []int{0, -1} {
		if got := TopN(items, n); len(got) != 3 {
			t.Fatalf("expected all items for n=%d, got %v", n, got)
		}
	}
	kept := TopN(items, 0)
	kept[0] = 99
	if items[0] != 1 {
		t.Fatalf("expected TopN to copy its input")
	}
}

func TestParseScope(t *testing.T) {
	testCases := []struct {
		raw      string
		expected Scope
		err      error
	}{
		{raw: "", expected: National},
		{raw: "national", expected: National},
		{raw: "state:CA", expected: Scope{Kind: ScopeState, Value: "CA"}},
		{raw: "city: Fresno ", expected: Scope{Kind: ScopeCity, Value: "Fresno"}},
		{raw: "state:", err: ErrInvalidScope},
		{raw: "planet:Mars", err: ErrInvalidScope},
		{raw: "galaxy", err: ErrInvalidScope},
	}
	for _, testCase := range testCases {
		t.Run(testCase.raw, func(t *testing.T) {
			scope, err := ParseScope(testCase.raw)
			if testCase.err != nil {
				if !errors.Is(err, testCase.err) {
					t.Fatalf("expected %v, got %v", testCase.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scope != testCase.expected {
				t.Fatalf("expected %+v, got %+v", testCase.expected, scope)
			}
		})
	}
}

func TestParsePeriodAndWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	if _, err := ParsePeriod("year"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	period, err := ParsePeriod("WEEK")
	if err != nil || period != PeriodWeek {
		t.Fatalf("expected week, got %q (%v)", period, err)
	}
	if got := WindowStart(PeriodWeek, now); !got.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("unexpected week window %v", got)
	}
	if got := WindowStart(PeriodMonth, now); !got.Equal(now.AddDate(0, -1, 0)) {
		t.Fatalf("unexpected month window %v", got)
	}
	if got := WindowStart(PeriodAll, now); !got.IsZero() {
		t.Fatalf("expected unbounded window, got %v", got)
	}
}
