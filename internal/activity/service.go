package activity

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "activity.service.new"
	opRecord     = "activity.record"
	fieldUserID  = "user_id"
	fieldMediaID = "media_id"
	fieldEventID = "event_id"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingAwarder  = errors.New("xp awarder is required")
	errMissingTracker  = errors.New("requirement recorder is required")
	errMissingLookup   = errors.New("requirement lookup is required")
)

// XPAwarder credits watch XP inside the ingestion transaction.
type XPAwarder interface {
	AwardWatchXPTx(tx *gorm.DB, userID domain.UserID, secondsWatched int64) (progression.Award, error)
}

// RequirementRecorder feeds watched requirements into unlock progress.
type RequirementRecorder interface {
	RecordRequirementWatchedTx(tx *gorm.DB, userID domain.UserID, targetMediaID domain.MediaID, requirementID domain.MediaID, totalRequired int) (unlocks.Progress, error)
}

// UnlockChecker reports whether a target is already in the user's unlocked set.
type UnlockChecker interface {
	IsUnlockedTx(tx *gorm.DB, userID domain.UserID, mediaID domain.MediaID) (bool, error)
}

// RequirementLookup finds the locked targets that list a media item as a prerequisite.
type RequirementLookup interface {
	RequirementTargets(ctx context.Context, requirementMediaID domain.MediaID) ([]media.RequirementTarget, error)
}

// Observer is notified after every Record call that committed, duplicates included.
type Observer interface {
	ActivityRecorded(result Result)
}

// Result describes the effects of one recorded activity.
type Result struct {
	ActivityID string
	Event      Event
	Duplicate  bool
	Award      *progression.Award
	Progress   []unlocks.Progress
}

// ServiceConfig describes the dependencies of the activity service.
type ServiceConfig struct {
	Database     *gorm.DB
	XP           XPAwarder
	Tracker      RequirementRecorder
	Unlocks      UnlockChecker
	Requirements RequirementLookup
	Observers    []Observer
	Clock        func() time.Time
	IDGenerator  func() (string, error)
	Logger       *zap.Logger
}

// Service records activity and exposes the watch history derived from it.
type Service struct {
	*History
	db           *gorm.DB
	xp           XPAwarder
	tracker      RequirementRecorder
	unlocks      UnlockChecker
	requirements RequirementLookup
	observers    []Observer
	clock        func() time.Time
	newID        func() (string, error)
	reporter     serviceerr.Reporter
}

// NewService constructs the activity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.XP == nil {
		return nil, serviceerr.New(opServiceNew, "missing_xp_awarder", errMissingAwarder)
	}
	if cfg.Tracker == nil {
		return nil, serviceerr.New(opServiceNew, "missing_tracker", errMissingTracker)
	}
	if cfg.Requirements == nil {
		return nil, serviceerr.New(opServiceNew, "missing_requirement_lookup", errMissingLookup)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = newUUIDv7
	}
	return &Service{
		History:      NewHistory(cfg.Database, cfg.Logger),
		db:           cfg.Database,
		xp:           cfg.XP,
		tracker:      cfg.Tracker,
		unlocks:      cfg.Unlocks,
		requirements: cfg.Requirements,
		observers:    cfg.Observers,
		clock:        clock,
		newID:        newID,
		reporter:     serviceerr.NewReporter(cfg.Logger, "activity service error"),
	}, nil
}

// Record stores the activity. Watch events add to the ledger, award XP, and
// advance unlock progress of every locked target that requires the media,
// all in one transaction. An event id the user already reported is a
// duplicate without side effects; other users may reuse the same event id.
func (s *Service) Record(ctx context.Context, event Event) (Result, error) {
	logFields := []zap.Field{
		zap.String(fieldUserID, event.UserID.String()),
		zap.String(fieldMediaID, event.MediaID.String()),
		zap.String(fieldEventID, event.EventID),
	}

	activityID, err := s.newID()
	if err != nil {
		return Result{}, s.reporter.Fail(opRecord, "id_generation_failed", err, logFields...)
	}
	var eventID *string
	if event.EventID != "" {
		eventID = &event.EventID
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock().UTC()
	}

	var targets []media.RequirementTarget
	if event.Type == TypeWatch {
		targets, err = s.requirements.RequirementTargets(ctx, event.MediaID)
		if err != nil {
			return Result{}, s.reporter.Fail(opRecord, "requirement_lookup_failed", err, logFields...)
		}
	}

	result := Result{ActivityID: activityID, Event: event}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Record{
			ActivityID:        activityID,
			UserID:            event.UserID.String(),
			EventID:           eventID,
			MediaID:           event.MediaID.String(),
			Type:              event.Type,
			DurationSeconds:   event.DurationSeconds,
			OccurredAtSeconds: occurredAt.Unix(),
		})
		if insert.Error != nil {
			return s.reporter.Fail(opRecord, "insert_failed", insert.Error, logFields...)
		}
		if insert.RowsAffected == 0 {
			result.Duplicate = true
			var existing Record
			if err := tx.Where("user_id = ? AND event_id = ?", event.UserID.String(), event.EventID).Take(&existing).Error; err != nil {
				return s.reporter.Fail(opRecord, "duplicate_lookup_failed", err, logFields...)
			}
			result.ActivityID = existing.ActivityID
			return nil
		}
		if event.Type != TypeWatch {
			return nil
		}

		award, err := s.xp.AwardWatchXPTx(tx, event.UserID, event.DurationSeconds)
		if err != nil {
			return err
		}
		result.Award = &award

		for _, target := range targets {
			targetID := domain.MediaID(target.TargetMediaID)
			if s.unlocks != nil {
				unlocked, err := s.unlocks.IsUnlockedTx(tx, event.UserID, targetID)
				if err != nil {
					return s.reporter.Fail(opRecord, "unlock_lookup_failed", err, logFields...)
				}
				if unlocked {
					continue
				}
			}
			progress, err := s.tracker.RecordRequirementWatchedTx(tx, event.UserID, targetID, event.MediaID, target.TotalRequired)
			if err != nil {
				return err
			}
			result.Progress = append(result.Progress, progress)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, observer := range s.observers {
		observer.ActivityRecorded(result)
	}
	return result, nil
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
