package unlocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
)

func TestEvaluateRequirementList(t *testing.T) {
	testCases := []struct {
		name         string
		requirements []domain.MediaID
		watched      []string
		expected     bool
	}{
		{name: "empty list never unlocks", requirements: nil, watched: []string{"a"}, expected: false},
		{name: "partial", requirements: []domain.MediaID{"a", "b"}, watched: []string{"a"}, expected: false},
		{name: "all watched", requirements: []domain.MediaID{"a", "b"}, watched: []string{"b", "a"}, expected: true},
		{name: "duplicates in list", requirements: []domain.MediaID{"a", "a"}, watched: []string{"a"}, expected: true},
		{name: "extra watched items", requirements: []domain.MediaID{"a"}, watched: []string{"a", "z"}, expected: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			watched := make(map[string]struct{}, len(testCase.watched))
			for _, id := range testCase.watched {
				watched[id] = struct{}{}
			}
			decision := evaluate(RequirementList{RequirementIDs: testCase.requirements}, evaluationContext{watchedRequirements: watched})
			if decision.Unlocked != testCase.expected {
				t.Fatalf("expected unlocked=%v, got %+v", testCase.expected, decision)
			}
			if decision.Strategy != StrategyRequirementList {
				t.Fatalf("unexpected strategy %s", decision.Strategy)
			}
			if decision.Reason == "" {
				t.Fatalf("expected a reason")
			}
		})
	}
}

func TestEvaluateCategoryOverlap(t *testing.T) {
	testCases := []struct {
		name     string
		watched  []domain.MediaID
		tags     media.Tags
		target   media.Tags
		expected bool
		reason   string
	}{
		{name: "no history", target: media.Tags{Categories: []string{"drama"}}, expected: false, reason: reasonNoWatchHistory},
		{name: "watched untagged media", watched: []domain.MediaID{"pilot"}, target: media.Tags{Categories: []string{"drama"}}, expected: false, reason: reasonNoSharedTags},
		{name: "shared category", watched: []domain.MediaID{"pilot"}, tags: media.Tags{Categories: []string{"drama", "comedy"}}, target: media.Tags{Categories: []string{"comedy"}}, expected: true, reason: reasonSharedTags},
		{name: "shared actor", watched: []domain.MediaID{"pilot"}, tags: media.Tags{Actors: []string{"ana"}}, target: media.Tags{Categories: []string{"drama"}, Actors: []string{"ana"}}, expected: true, reason: reasonSharedTags},
		{name: "disjoint", watched: []domain.MediaID{"pilot"}, tags: media.Tags{Categories: []string{"drama"}, Actors: []string{"ana"}}, target: media.Tags{Categories: []string{"horror"}, Actors: []string{"bo"}}, expected: false, reason: reasonNoSharedTags},
		{name: "untagged target", watched: []domain.MediaID{"pilot"}, tags: media.Tags{Categories: []string{"drama"}}, target: media.Tags{}, expected: false, reason: reasonNoSharedTags},
		{name: "category never matches actor", watched: []domain.MediaID{"pilot"}, tags: media.Tags{Categories: []string{"x1"}}, target: media.Tags{Actors: []string{"x1"}}, expected: false, reason: reasonNoSharedTags},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			strategy := CategoryOverlap{WatchedMediaIDs: testCase.watched, Watched: testCase.tags, Target: testCase.target}
			decision := evaluate(strategy, evaluationContext{})
			if decision.Unlocked != testCase.expected {
				t.Fatalf("expected unlocked=%v, got %+v", testCase.expected, decision)
			}
			if decision.Reason != testCase.reason {
				t.Fatalf("expected reason %q, got %q", testCase.reason, decision.Reason)
			}
		})
	}
}

func TestCheckAndUnlockRejectsNilStrategy(t *testing.T) {
	harness := newTestHarness(t, nil)
	_, err := harness.engine.CheckAndUnlock(context.Background(), "user-1", "target", nil)
	if !errors.Is(err, ErrUnsupportedStrategy) {
		t.Fatalf("expected unsupported strategy error, got %v", err)
	}
	if code, ok := serviceerr.CodeOf(err); !ok || code != "unlocks.check_and_unlock.unsupported_strategy" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRequirementUnlockLifecycle(t *testing.T) {
	harness := newTestHarness(t, nil)
	ctx := context.Background()
	userID := domain.UserID("user-1")
	target := domain.MediaID("finale")
	mustSaveMedia(t, harness.catalog, media.Definition{
		Media:        media.Media{MediaID: target.String(), Title: "Finale", YouTubeID: "yt-finale", Locked: true},
		Requirements: []string{"episode-1", "episode-2"},
	})

	mustRecord(t, harness.tracker, userID, target, "episode-1", 2)
	partial, err := harness.engine.CheckRequirementUnlock(ctx, userID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial.Unlocked {
		t.Fatalf("expected partial progress to stay locked, got %+v", partial)
	}
	progress, err := harness.tracker.GetProgress(ctx, userID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.ProgressPercentage != 50 {
		t.Fatalf("expected failed check to keep progress, got %+v", progress)
	}

	mustRecord(t, harness.tracker, userID, target, "episode-2", 2)
	decision, err := harness.engine.CheckRequirementUnlock(ctx, userID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Unlocked || !decision.NewlyUnlocked || decision.AlreadyUnlocked {
		t.Fatalf("expected a new unlock, got %+v", decision)
	}

	unlocked, err := harness.engine.IsUnlocked(ctx, userID, target)
	if err != nil || !unlocked {
		t.Fatalf("expected media to be unlocked, got %v (%v)", unlocked, err)
	}
	cleared, err := harness.tracker.GetProgress(ctx, userID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared.State() != StateNotStarted {
		t.Fatalf("expected progress to be cleared after unlock, got %+v", cleared)
	}

	repeated, err := harness.engine.CheckRequirementUnlock(ctx, userID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repeated.Unlocked || !repeated.AlreadyUnlocked || repeated.NewlyUnlocked {
		t.Fatalf("expected already unlocked, got %+v", repeated)
	}

	list, err := harness.engine.ListUnlocked(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].MediaID != target || list[0].Strategy != StrategyRequirementList {
		t.Fatalf("unexpected unlocked set %+v", list)
	}
}

func TestRequirementUnlockWithoutRequirementsStaysLocked(t *testing.T) {
	harness := newTestHarness(t, nil)
	decision, err := harness.engine.CheckRequirementUnlock(context.Background(), "user-1", "orphan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Unlocked {
		t.Fatalf("expected an empty requirement list to stay locked, got %+v", decision)
	}
}

func TestOverlapUnlock(t *testing.T) {
	userID := domain.UserID("user-1")
	history := stubHistory{watched: map[domain.UserID][]domain.MediaID{userID: {"pilot"}}}
	harness := newTestHarness(t, history)
	ctx := context.Background()

	mustSaveMedia(t, harness.catalog, media.Definition{
		Media:      media.Media{MediaID: "pilot", Title: "Pilot", YouTubeID: "yt-pilot"},
		Categories: []string{"drama"},
		Actors:     []string{"ana"},
	})
	mustSaveMedia(t, harness.catalog, media.Definition{
		Media:      media.Media{MediaID: "spinoff", Title: "Spinoff", YouTubeID: "yt-spinoff", Locked: true},
		Categories: []string{"comedy"},
		Actors:     []string{"ana"},
	})
	mustSaveMedia(t, harness.catalog, media.Definition{
		Media:      media.Media{MediaID: "horror", Title: "Horror", YouTubeID: "yt-horror", Locked: true},
		Categories: []string{"horror"},
	})

	shared, err := harness.engine.CheckOverlapUnlock(ctx, userID, "spinoff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shared.NewlyUnlocked || shared.Strategy != StrategyCategoryOverlap {
		t.Fatalf("expected overlap unlock, got %+v", shared)
	}

	disjoint, err := harness.engine.CheckOverlapUnlock(ctx, userID, "horror")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disjoint.Unlocked {
		t.Fatalf("expected disjoint tags to stay locked, got %+v", disjoint)
	}

	newcomer, err := harness.engine.CheckOverlapUnlock(ctx, "user-2", "spinoff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newcomer.Unlocked {
		t.Fatalf("expected a user without history to stay locked, got %+v", newcomer)
	}
}

func TestOverlapUnlockHistoryError(t *testing.T) {
	harness := newTestHarness(t, stubHistory{err: errors.New("boom")})
	_, err := harness.engine.CheckOverlapUnlock(context.Background(), "user-1", "target")
	if code, ok := serviceerr.CodeOf(err); !ok || code != "unlocks.check_overlap_unlock.history_lookup_failed" {
		t.Fatalf("expected history lookup failure, got %v", err)
	}
}

func TestConcurrentUnlockCommitsOnce(t *testing.T) {
	harness := newTestHarness(t, nil)
	ctx := context.Background()
	userID := domain.UserID("user-1")
	target := domain.MediaID("finale")
	mustRecord(t, harness.tracker, userID, target, "episode-1", 1)

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		newly    int
		failures []error
	)
	for index := 0; index < workers; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := harness.engine.CheckAndUnlock(ctx, userID, target, RequirementList{RequirementIDs: []domain.MediaID{"episode-1"}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !decision.Unlocked {
				failures = append(failures, errors.New("expected every caller to observe the unlock"))
			}
			if decision.NewlyUnlocked {
				newly++
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if newly != 1 {
		t.Fatalf("expected exactly one new unlock, got %d", newly)
	}
	var count int64
	if err := harness.db.Model(&UnlockedMedia{}).Where(queryUserMedia, userID.String(), target.String()).Count(&count).Error; err != nil {
		t.Fatalf("failed to count unlocks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single unlocked row, got %d", count)
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
	harness := newTestHarness(t, nil)
	if _, err := NewEngine(EngineConfig{Database: harness.db}); err == nil {
		t.Fatalf("expected missing tracker error")
	}
}
