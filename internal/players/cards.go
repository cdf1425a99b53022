package players

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"go.uber.org/zap"
)

const (
	opGrantCard  = "players.grant_card"
	opListCards  = "players.list_cards"
	opCardCounts = "players.card_counts"
	maxCardChars = 190
)

// ErrInvalidCardID indicates an empty or oversized card identifier.
var ErrInvalidCardID = errors.New("players: invalid card id")

// GrantCard adds a new collectible instance to the player's collection.
func (s *Service) GrantCard(ctx context.Context, userID domain.UserID, cardID string) (OwnedCard, error) {
	cardID = normalize(cardID)
	if cardID == "" || len(cardID) > maxCardChars {
		return OwnedCard{}, ErrInvalidCardID
	}
	instanceID, err := s.newID()
	if err != nil {
		return OwnedCard{}, s.reporter.Fail(opGrantCard, "id_generation_failed", err, zap.String(fieldUserID, userID.String()))
	}
	card := OwnedCard{
		CardInstanceID:    instanceID,
		UserID:            userID.String(),
		CardID:            cardID,
		AcquiredAtSeconds: s.now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&card).Error; err != nil {
		return OwnedCard{}, s.reporter.Fail(opGrantCard, "insert_failed", err, zap.String(fieldUserID, userID.String()))
	}
	return card, nil
}

// ListCards returns the player's collection, oldest first.
func (s *Service) ListCards(ctx context.Context, userID domain.UserID) ([]OwnedCard, error) {
	var cards []OwnedCard
	if err := s.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order("acquired_at_s ASC, card_instance_id ASC").
		Find(&cards).Error; err != nil {
		return nil, s.reporter.Fail(opListCards, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}
	return cards, nil
}

type cardCount struct {
	UserID string
	Total  int64
}

// CardCounts returns the number of owned card instances per player.
func (s *Service) CardCounts(ctx context.Context) (map[string]int64, error) {
	var rows []cardCount
	if err := s.db.WithContext(ctx).
		Model(&OwnedCard{}).
		Select("user_id AS user_id, COUNT(*) AS total").
		Group("user_id").
		Scan(&rows).Error; err != nil {
		return nil, s.reporter.Fail(opCardCounts, "query_failed", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.UserID] = row.Total
	}
	return counts, nil
}
