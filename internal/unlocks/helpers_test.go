package unlocks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.now = c.now.Add(delta)
}

type stubHistory struct {
	watched map[domain.UserID][]domain.MediaID
	err     error
}

func (s stubHistory) WatchedMediaIDs(_ context.Context, userID domain.UserID) ([]domain.MediaID, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.watched[userID], nil
}

type testHarness struct {
	db      *gorm.DB
	clock   *testClock
	tracker *Tracker
	engine  *Engine
	catalog *media.Catalog
}

func newTestHarness(t *testing.T, history WatchHistory) testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "unlocks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&ProgressRecord{},
		&WatchedRequirement{},
		&UnlockedMedia{},
		&media.Media{},
		&media.Category{},
		&media.Actor{},
		&media.Requirement{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	tracker, err := NewTracker(TrackerConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	catalog, err := media.NewCatalog(media.CatalogConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	engine, err := NewEngine(EngineConfig{
		Database: db,
		Tracker:  tracker,
		Media:    catalog,
		History:  history,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return testHarness{db: db, clock: clock, tracker: tracker, engine: engine, catalog: catalog}
}

func mustSaveMedia(t *testing.T, catalog *media.Catalog, definition media.Definition) {
	t.Helper()
	if err := catalog.Save(context.Background(), definition); err != nil {
		t.Fatalf("failed to save media %s: %v", definition.Media.MediaID, err)
	}
}

func mustRecord(t *testing.T, tracker *Tracker, userID domain.UserID, target domain.MediaID, requirement domain.MediaID, total int) Progress {
	t.Helper()
	progress, err := tracker.RecordRequirementWatched(context.Background(), userID, target, requirement, total)
	if err != nil {
		t.Fatalf("failed to record requirement %s: %v", requirement, err)
	}
	return progress
}
