package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/ranking"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/gin-gonic/gin"
)

const (
	strategyRequirements = "requirements"
	strategyOverlap      = "overlap"
	awardSourceConnect   = "connection"
)

type activityRequestPayload struct {
	EventID         string     `json:"event_id"`
	MediaID         string     `json:"media_id"`
	ActivityType    string     `json:"activity_type"`
	DurationSeconds int64      `json:"duration_seconds"`
	OccurredAt      *time.Time `json:"occurred_at"`
}

type awardPayload struct {
	Awarded       int64 `json:"xp_awarded"`
	XP            int64 `json:"xp"`
	PreviousLevel int   `json:"previous_level"`
	Level         int   `json:"level"`
	LeveledUp     bool  `json:"leveled_up"`
}

type activityResponsePayload struct {
	ActivityID string             `json:"activity_id"`
	Duplicate  bool               `json:"duplicate"`
	Award      *awardPayload      `json:"award,omitempty"`
	Progress   []unlocks.Progress `json:"progress"`
}

func newAwardPayload(award progression.Award) *awardPayload {
	return &awardPayload{
		Awarded:       award.Awarded,
		XP:            award.XP,
		PreviousLevel: award.PreviousLevel,
		Level:         award.Level,
		LeveledUp:     award.LeveledUp(),
	}
}

func (h *httpHandler) handleRecordActivity(c *gin.Context) {
	var request activityRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	activityType := activity.Type(strings.ToLower(strings.TrimSpace(request.ActivityType)))
	if activityType == "" {
		activityType = activity.TypeWatch
	}
	occurredAt := h.clock().UTC()
	if request.OccurredAt != nil {
		occurredAt = request.OccurredAt.UTC()
	}
	event, err := activity.NewEvent(request.EventID, currentUserID(c), request.MediaID, activityType, request.DurationSeconds, occurredAt)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.activity.Record(c.Request.Context(), event)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := activityResponsePayload{
		ActivityID: result.ActivityID,
		Duplicate:  result.Duplicate,
		Progress:   result.Progress,
	}
	if response.Progress == nil {
		response.Progress = []unlocks.Progress{}
	}
	if result.Award != nil {
		response.Award = newAwardPayload(*result.Award)
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, response)
}

func (h *httpHandler) handleLevel(c *gin.Context) {
	info, err := h.progression.LevelInfo(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *httpHandler) handleUpdateLocation(c *gin.Context) {
	var request players.Location
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	location, err := h.players.UpdateLocation(c.Request.Context(), currentUserID(c), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

type cardRequestPayload struct {
	CardID string `json:"card_id"`
}

type cardPayload struct {
	CardInstanceID string    `json:"card_instance_id"`
	CardID         string    `json:"card_id"`
	AcquiredAt     time.Time `json:"acquired_at"`
}

func newCardPayload(card players.OwnedCard) cardPayload {
	return cardPayload{
		CardInstanceID: card.CardInstanceID,
		CardID:         card.CardID,
		AcquiredAt:     time.Unix(card.AcquiredAtSeconds, 0).UTC(),
	}
}

// handleGrantCard credits a card to the player in the path. It is served on the
// internal route group only.
func (h *httpHandler) handleGrantCard(c *gin.Context) {
	userID, err := domain.NewUserID(c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request cardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	card, err := h.players.GrantCard(c.Request.Context(), userID, request.CardID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCardPayload(card))
}

func (h *httpHandler) handleListCards(c *gin.Context) {
	cards, err := h.players.ListCards(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]cardPayload, 0, len(cards))
	for _, card := range cards {
		payload = append(payload, newCardPayload(card))
	}
	c.JSON(http.StatusOK, gin.H{"cards": payload})
}

type requirementRequestPayload struct {
	RequirementID string `json:"requirement_id"`
	TotalRequired int    `json:"total_required"`
}

type progressResponsePayload struct {
	unlocks.Progress
	State unlocks.State `json:"state"`
}

func (h *httpHandler) handleRecordRequirement(c *gin.Context) {
	targetID, err := domain.NewMediaID(c.Param("mediaId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request requirementRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	requirementID, err := domain.NewMediaID(request.RequirementID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if request.TotalRequired <= 0 {
		h.respondError(c, fmt.Errorf("%w: total_required must be positive", errInvalidRequest))
		return
	}
	progress, err := h.tracker.RecordRequirementWatched(c.Request.Context(), currentUserID(c), targetID, requirementID, request.TotalRequired)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progressResponsePayload{Progress: progress, State: progress.State()})
}

func (h *httpHandler) handleGetProgress(c *gin.Context) {
	targetID, err := domain.NewMediaID(c.Param("mediaId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	progress, err := h.tracker.GetProgress(c.Request.Context(), currentUserID(c), targetID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progressResponsePayload{Progress: progress, State: progress.State()})
}

func (h *httpHandler) handleListInProgress(c *gin.Context) {
	items, err := h.tracker.ListInProgress(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if items == nil {
		items = []unlocks.InProgressItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *httpHandler) handleListUnlocked(c *gin.Context) {
	unlocked, err := h.unlocks.ListUnlocked(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

type checkRequestPayload struct {
	Strategy string `json:"strategy"`
}

func (h *httpHandler) handleCheckUnlock(c *gin.Context) {
	targetID, err := domain.NewMediaID(c.Param("mediaId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request checkRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	userID := currentUserID(c)
	var decision unlocks.Decision
	switch strings.ToLower(strings.TrimSpace(request.Strategy)) {
	case "", strategyRequirements:
		decision, err = h.unlocks.CheckRequirementUnlock(c.Request.Context(), userID, targetID)
	case strategyOverlap:
		decision, err = h.unlocks.CheckOverlapUnlock(c.Request.Context(), userID, targetID)
	default:
		err = fmt.Errorf("%w: %q", unlocks.ErrUnsupportedStrategy, request.Strategy)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveDecision(decision)
	}
	h.realtime.PublishDecision(userID, targetID, decision)
	c.JSON(http.StatusOK, decision)
}

type rankingResponsePayload struct {
	Scope     string             `json:"scope"`
	Period    ranking.Period     `json:"period"`
	Sort      ranking.SortKey    `json:"sort,omitempty"`
	Standings []ranking.Standing `json:"standings"`
}

func (h *httpHandler) handleRanking(c *gin.Context) {
	scope, period, err := parseRankingQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondError(c, fmt.Errorf("%w: limit %q", errInvalidRequest, raw))
			return
		}
	}
	key := ranking.ParseSortKey(c.Query("sort"))
	standings, err := h.rankings.GetRanking(c.Request.Context(), scope, period, key, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if standings == nil {
		standings = []ranking.Standing{}
	}
	c.JSON(http.StatusOK, rankingResponsePayload{
		Scope:     scope.String(),
		Period:    period,
		Sort:      key,
		Standings: standings,
	})
}

func (h *httpHandler) handleUserRank(c *gin.Context) {
	scope, period, err := parseRankingQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	standing, found, err := h.rankings.GetUserRank(c.Request.Context(), currentUserID(c), scope, period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"ranked": false, "scope": scope.String(), "period": period})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranked": true, "scope": scope.String(), "period": period, "standing": standing})
}

func parseRankingQuery(c *gin.Context) (ranking.Scope, ranking.Period, error) {
	scope, err := ranking.ParseScope(c.Query("scope"))
	if err != nil {
		return ranking.Scope{}, "", err
	}
	period, err := ranking.ParsePeriod(c.Query("period"))
	if err != nil {
		return ranking.Scope{}, "", err
	}
	return scope, period, nil
}

type connectionPayload struct {
	RequesterID string                   `json:"requester_id"`
	AddresseeID string                   `json:"addressee_id"`
	Status      players.ConnectionStatus `json:"status"`
}

func newConnectionPayload(connection players.Connection) connectionPayload {
	return connectionPayload{
		RequesterID: connection.RequesterID,
		AddresseeID: connection.AddresseeID,
		Status:      connection.Status,
	}
}

func (h *httpHandler) handleRequestConnection(c *gin.Context) {
	addresseeID, err := domain.NewUserID(c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	connection, err := h.players.RequestConnection(c.Request.Context(), currentUserID(c), addresseeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConnectionPayload(connection))
}

func (h *httpHandler) handleAcceptConnection(c *gin.Context) {
	requesterID, err := domain.NewUserID(c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	acceptance, err := h.players.AcceptConnection(c.Request.Context(), currentUserID(c), requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	awards := make([]*awardPayload, 0, len(acceptance.Awards))
	for _, award := range acceptance.Awards {
		if h.metrics != nil {
			h.metrics.ObserveAward(awardSourceConnect, award)
		}
		h.realtime.PublishAward(award)
		awards = append(awards, newAwardPayload(award))
	}
	c.JSON(http.StatusOK, gin.H{
		"connection":     newConnectionPayload(acceptance.Connection),
		"newly_accepted": acceptance.NewlyAccepted,
		"awards":         awards,
	})
}
