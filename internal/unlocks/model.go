package unlocks

import (
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
)

// ProgressRecord stores the unlock progress of one (user, target media) pair.
type ProgressRecord struct {
	UserID                string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_unlock_progress_user_activity,priority:1"`
	TargetMediaID         string `gorm:"column:target_media_id;primaryKey;size:190;not null"`
	TotalRequired         int    `gorm:"column:total_required;not null"`
	ProgressPercentage    int    `gorm:"column:progress_percentage;not null"`
	StartedAtSeconds      int64  `gorm:"column:started_at_s;not null"`
	LastActivityAtSeconds int64  `gorm:"column:last_activity_at_s;not null;index:idx_unlock_progress_user_activity,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ProgressRecord) TableName() string {
	return "unlock_progress"
}

// WatchedRequirement stores one watched requirement of a progress record.
// The composite key gives the watched set its set semantics.
type WatchedRequirement struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	TargetMediaID    string `gorm:"column:target_media_id;primaryKey;size:190;not null"`
	RequirementID    string `gorm:"column:requirement_id;primaryKey;size:190;not null"`
	WatchedAtSeconds int64  `gorm:"column:watched_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WatchedRequirement) TableName() string {
	return "unlock_progress_requirements"
}

// UnlockedMedia is one entry of a user's append-only unlocked set.
type UnlockedMedia struct {
	UserID            string       `gorm:"column:user_id;primaryKey;size:190;not null"`
	MediaID           string       `gorm:"column:media_id;primaryKey;size:190;not null"`
	Strategy          StrategyKind `gorm:"column:strategy;size:32;not null"`
	UnlockedAtSeconds int64        `gorm:"column:unlocked_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UnlockedMedia) TableName() string {
	return "unlocked_media"
}

// State is the position of a (user, target media) pair in the unlock progress state machine.
type State string

const (
	// StateNotStarted means no progress record exists.
	StateNotStarted State = "not_started"
	// StateInProgress means some but not all requirements were watched.
	StateInProgress State = "in_progress"
	// StateComplete means every requirement was watched. It is not an unlock by itself.
	StateComplete State = "complete"
)

// Progress is the read model of a progress record. The zero value is the NotStarted state.
type Progress struct {
	TargetMediaID         domain.MediaID   `json:"target_media_id"`
	ProgressPercentage    int              `json:"progress_percentage"`
	TotalRequired         int              `json:"total_required"`
	WatchedRequirementIDs []domain.MediaID `json:"watched_requirement_ids"`
	StartedAt             time.Time        `json:"started_at"`
	LastActivityAt        time.Time        `json:"last_activity_at"`
}

// State derives the state machine position from the record.
func (p Progress) State() State {
	switch {
	case p.StartedAt.IsZero():
		return StateNotStarted
	case p.ProgressPercentage >= 100:
		return StateComplete
	default:
		return StateInProgress
	}
}

// InProgressItem is one row of ListInProgress.
type InProgressItem struct {
	TargetMediaID      domain.MediaID `json:"target_media_id"`
	ProgressPercentage int            `json:"progress_percentage"`
	LastActivityAt     time.Time      `json:"last_activity_at"`
}

// Unlocked is one entry of the unlocked set read model.
type Unlocked struct {
	MediaID    domain.MediaID `json:"media_id"`
	Strategy   StrategyKind   `json:"strategy"`
	UnlockedAt time.Time      `json:"unlocked_at"`
}

// PercentageFor computes min(100, round(100*watched/totalRequired)).
// A non-positive totalRequired yields 0.
func PercentageFor(watched int, totalRequired int) int {
	if totalRequired <= 0 || watched <= 0 {
		return 0
	}
	percentage := int(math.Round(100 * float64(watched) / float64(totalRequired)))
	return min(percentage, 100)
}

func secondsToTime(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
