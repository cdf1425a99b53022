package progression

import "math"

const (
	// BaseXPPerMinute is the award rate for a brand-new viewer.
	BaseXPPerMinute = 10.0
	// MinXPPerMinute is the floor the decayed rate never goes below.
	MinXPPerMinute = 1.0
	// DecayPerStep is subtracted from the rate for every DecayStepMinutes of lifetime watch time.
	DecayPerStep = 0.5
	// DecayStepMinutes is the lifetime watch time covered by one decay step.
	DecayStepMinutes = 100
	// LevelXPStep is the width of every level band.
	LevelXPStep = 20000
	// ConnectionAcceptedXP is the fixed reward for an accepted connection.
	ConnectionAcceptedXP = 500
	// MinWatchAward is the smallest award a watch session can produce.
	MinWatchAward = 1
)

// LevelInfo summarizes a user's position inside the level bands.
type LevelInfo struct {
	Level           int     `json:"level"`
	XP              int64   `json:"xp"`
	XPToNext        int64   `json:"xp_to_next"`
	ProgressPercent float64 `json:"progress_percent"`
}

// XPPerMinute returns the decayed award rate for the provided lifetime watch time.
func XPPerMinute(totalWatchMinutesSoFar int64) float64 {
	if totalWatchMinutesSoFar < 0 {
		totalWatchMinutesSoFar = 0
	}
	steps := totalWatchMinutesSoFar / DecayStepMinutes
	rate := BaseXPPerMinute - float64(steps)*DecayPerStep
	return math.Max(MinXPPerMinute, rate)
}

// XPForWatchSeconds converts one watch session into an XP award.
// Every session yields at least MinWatchAward regardless of length or lifetime watch time.
func XPForWatchSeconds(secondsWatched int64, totalWatchMinutesSoFar int64) int64 {
	if secondsWatched < 0 {
		secondsWatched = 0
	}
	raw := float64(secondsWatched) * XPPerMinute(totalWatchMinutesSoFar) / 60
	// exact halves round down: 9.5 awards 9.
	award := int64(math.Ceil(raw - 0.5))
	if award < MinWatchAward {
		return MinWatchAward
	}
	return award
}

// XPForAcceptedConnection returns the fixed reward for an accepted connection.
func XPForAcceptedConnection() int64 {
	return ConnectionAcceptedXP
}

// LevelForXP derives the level from accumulated XP.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/LevelXPStep) + 1
}

// XPRequiredForNextLevel reports how much XP is missing to reach the next band.
func XPRequiredForNextLevel(currentXP int64) int64 {
	if currentXP < 0 {
		currentXP = 0
	}
	return int64(LevelForXP(currentXP))*LevelXPStep - currentXP
}

// ProgressToNextLevel reports the percentage covered inside the current band.
func ProgressToNextLevel(currentXP int64) float64 {
	if currentXP < 0 {
		currentXP = 0
	}
	return float64(currentXP%LevelXPStep) * 100 / LevelXPStep
}

// NewLevelInfo bundles the level derivations for the provided XP total.
func NewLevelInfo(xp int64) LevelInfo {
	if xp < 0 {
		xp = 0
	}
	return LevelInfo{
		Level:           LevelForXP(xp),
		XP:              xp,
		XPToNext:        XPRequiredForNextLevel(xp),
		ProgressPercent: ProgressToNextLevel(xp),
	}
}
