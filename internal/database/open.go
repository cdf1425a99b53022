package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/MarcoPoloResearchLab/streamquest/internal/watchtime"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite opens Path as a SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres opens DSN with the PostgreSQL driver.
	DriverPostgres = "postgres"
)

// Options selects the database backend.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&progression.UserProgress{},
		&watchtime.Entry{},
		&activity.Record{},
		&media.Media{},
		&media.Category{},
		&media.Actor{},
		&media.Requirement{},
		&unlocks.ProgressRecord{},
		&unlocks.WatchedRequirement{},
		&unlocks.UnlockedMedia{},
		&players.Profile{},
		&players.OwnedCard{},
		&players.Connection{},
		&migrationRecord{},
	}
}

// Open connects to the configured backend, migrates the schema, and applies
// pending data migrations.
func Open(ctx context.Context, options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(ctx, db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", dialector.Name()))
	return db, nil
}

func dialectorFor(options Options) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		if strings.TrimSpace(options.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return sqlite.Open(options.Path), nil
	case DriverPostgres:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return postgres.Open(options.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}
