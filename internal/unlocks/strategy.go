package unlocks

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
)

// StrategyKind names an unlock rule.
type StrategyKind string

const (
	// StrategyRequirementList unlocks once every listed requirement was watched.
	StrategyRequirementList StrategyKind = "requirement_list"
	// StrategyCategoryOverlap unlocks when the watch history shares a category or actor with the target.
	StrategyCategoryOverlap StrategyKind = "category_overlap"
)

const (
	reasonAlreadyUnlocked     = "already unlocked"
	reasonNoRequirements      = "no unlock requirements defined"
	reasonNoWatchHistory      = "no watch history"
	reasonNoSharedTags        = "watch history shares no category or actor with the media"
	reasonSharedTags          = "watch history shares a category or actor with the media"
	reasonUnsupportedStrategy = "unsupported unlock strategy"
)

// Strategy is the closed set of unlock rules: RequirementList or CategoryOverlap.
type Strategy interface {
	Kind() StrategyKind
	isStrategy()
}

// RequirementList carries the authoritative requirement list of the target.
type RequirementList struct {
	RequirementIDs []domain.MediaID
}

// Kind implements Strategy.
func (RequirementList) Kind() StrategyKind { return StrategyRequirementList }

func (RequirementList) isStrategy() {}

// CategoryOverlap carries the user's watched media, their tags, and the tags of
// the target.
type CategoryOverlap struct {
	WatchedMediaIDs []domain.MediaID
	Watched         media.Tags
	Target          media.Tags
}

// Kind implements Strategy.
func (CategoryOverlap) Kind() StrategyKind { return StrategyCategoryOverlap }

func (CategoryOverlap) isStrategy() {}

// Decision is the all-or-nothing result of one unlock evaluation.
type Decision struct {
	Unlocked        bool         `json:"unlocked"`
	AlreadyUnlocked bool         `json:"already_unlocked"`
	NewlyUnlocked   bool         `json:"newly_unlocked"`
	Strategy        StrategyKind `json:"strategy"`
	Reason          string       `json:"reason"`
}

type evaluationContext struct {
	watchedRequirements map[string]struct{}
}

// evaluate dispatches to the rule of the strategy. It has no side effects.
func evaluate(strategy Strategy, evalCtx evaluationContext) Decision {
	switch typed := strategy.(type) {
	case RequirementList:
		return evaluateRequirementList(typed, evalCtx)
	case CategoryOverlap:
		return evaluateCategoryOverlap(typed)
	default:
		return Decision{Reason: reasonUnsupportedStrategy}
	}
}

func evaluateRequirementList(strategy RequirementList, evalCtx evaluationContext) Decision {
	decision := Decision{Strategy: StrategyRequirementList}
	required := make(map[string]struct{}, len(strategy.RequirementIDs))
	for _, id := range strategy.RequirementIDs {
		required[id.String()] = struct{}{}
	}
	if len(required) == 0 {
		decision.Reason = reasonNoRequirements
		return decision
	}

	watched := 0
	for id := range required {
		if _, ok := evalCtx.watchedRequirements[id]; ok {
			watched++
		}
	}
	if watched == len(required) {
		decision.Unlocked = true
		decision.Reason = fmt.Sprintf("all %d requirements watched", len(required))
		return decision
	}
	decision.Reason = fmt.Sprintf("%d of %d requirements watched", watched, len(required))
	return decision
}

func evaluateCategoryOverlap(strategy CategoryOverlap) Decision {
	decision := Decision{Strategy: StrategyCategoryOverlap}
	if len(strategy.WatchedMediaIDs) == 0 && strategy.Watched.Empty() {
		decision.Reason = reasonNoWatchHistory
		return decision
	}

	watched := tagSet(strategy.Watched)
	for key := range tagSet(strategy.Target) {
		if _, ok := watched[key]; ok {
			decision.Unlocked = true
			decision.Reason = reasonSharedTags
			return decision
		}
	}
	decision.Reason = reasonNoSharedTags
	return decision
}

// tagSet namespaces categories and actors so a category and an actor that
// happen to share an identifier never match each other.
func tagSet(tags media.Tags) map[string]struct{} {
	set := make(map[string]struct{}, len(tags.Categories)+len(tags.Actors))
	for _, category := range tags.Categories {
		set["category:"+category] = struct{}{}
	}
	for _, actor := range tags.Actors {
		set["actor:"+actor] = struct{}{}
	}
	return set
}
