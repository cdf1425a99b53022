// Package activity ingests playback activity and drives the ledger, XP, and
// unlock progress from it.
package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
)

// Type distinguishes watch sessions from plain page stays.
type Type string

const (
	// TypeWatch is a playback session of a media item.
	TypeWatch Type = "watch"
	// TypeStay is time spent on the platform without playback.
	TypeStay Type = "stay"
)

const maxEventIDLength = 190

var (
	// ErrInvalidType indicates an activity type other than watch or stay.
	ErrInvalidType = errors.New("activity: invalid type")
	// ErrInvalidDuration indicates a negative duration.
	ErrInvalidDuration = errors.New("activity: invalid duration")
	// ErrMissingMedia indicates a watch event without a media identifier.
	ErrMissingMedia = errors.New("activity: watch events require a media id")
	// ErrInvalidEventID indicates an event identifier that exceeds the column size.
	ErrInvalidEventID = errors.New("activity: invalid event id")
)

// Record is the persisted activity row. EventID is nil for reports without an
// event id; a non-nil EventID is unique per user.
type Record struct {
	ActivityID        string  `gorm:"column:activity_id;primaryKey;size:190;not null"`
	UserID            string  `gorm:"column:user_id;size:190;not null;index:idx_activities_user_type,priority:1;uniqueIndex:idx_activities_user_event,priority:1"`
	EventID           *string `gorm:"column:event_id;size:190;uniqueIndex:idx_activities_user_event,priority:2"`
	MediaID           string  `gorm:"column:media_id;size:190;not null;default:''"`
	Type              Type    `gorm:"column:activity_type;size:16;not null;index:idx_activities_user_type,priority:2"`
	DurationSeconds   int64   `gorm:"column:duration_s;not null"`
	OccurredAtSeconds int64   `gorm:"column:occurred_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "activities"
}

// Event is a validated activity report.
type Event struct {
	EventID         string
	UserID          domain.UserID
	MediaID         domain.MediaID
	Type            Type
	DurationSeconds int64
	OccurredAt      time.Time
}

// NewEvent validates an activity report. The event id is optional; when present
// the report is recorded at most once per user.
func NewEvent(eventID string, userID domain.UserID, mediaID string, activityType Type, durationSeconds int64, occurredAt time.Time) (Event, error) {
	trimmedEventID := strings.TrimSpace(eventID)
	if len(trimmedEventID) > maxEventIDLength {
		return Event{}, fmt.Errorf("%w: %d characters", ErrInvalidEventID, len(trimmedEventID))
	}
	if userID == "" {
		return Event{}, domain.ErrInvalidUserID
	}
	switch activityType {
	case TypeWatch, TypeStay:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidType, activityType)
	}
	if durationSeconds < 0 {
		return Event{}, fmt.Errorf("%w: %d", ErrInvalidDuration, durationSeconds)
	}

	var media domain.MediaID
	if strings.TrimSpace(mediaID) != "" {
		parsed, err := domain.NewMediaID(mediaID)
		if err != nil {
			return Event{}, err
		}
		media = parsed
	}
	if activityType == TypeWatch && media == "" {
		return Event{}, ErrMissingMedia
	}

	return Event{
		EventID:         trimmedEventID,
		UserID:          userID,
		MediaID:         media,
		Type:            activityType,
		DurationSeconds: durationSeconds,
		OccurredAt:      occurredAt.UTC(),
	}, nil
}
