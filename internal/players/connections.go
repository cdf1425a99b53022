package players

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opRequestConnection = "players.request_connection"
	opAcceptConnection  = "players.accept_connection"
	fieldRequesterID    = "requester_id"
	fieldAddresseeID    = "addressee_id"
	queryConnectionPair = "requester_id = ? AND addressee_id = ?"
)

var (
	// ErrSelfConnection indicates a player tried to connect to themselves.
	ErrSelfConnection = errors.New("players: cannot connect to self")
	// ErrConnectionNotFound indicates there is no request to accept.
	ErrConnectionNotFound = errors.New("players: connection request not found")
	errMissingAwarder     = errors.New("connection awarder is required")
)

// Acceptance is the outcome of AcceptConnection.
type Acceptance struct {
	Connection    Connection
	NewlyAccepted bool
	Awards        []progression.Award
}

// RequestConnection records a pending request from requester to addressee.
// When a request already exists in either direction it is returned unchanged.
func (s *Service) RequestConnection(ctx context.Context, requesterID domain.UserID, addresseeID domain.UserID) (Connection, error) {
	if requesterID == addresseeID {
		return Connection{}, ErrSelfConnection
	}
	logFields := []zap.Field{
		zap.String(fieldRequesterID, requesterID.String()),
		zap.String(fieldAddresseeID, addresseeID.String()),
	}

	var connection Connection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := findConnection(tx, addresseeID, requesterID)
		if err != nil {
			return s.reporter.Fail(opRequestConnection, "reverse_lookup_failed", err, logFields...)
		}
		if found {
			connection = existing
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Connection{
			RequesterID:        requesterID.String(),
			AddresseeID:        addresseeID.String(),
			Status:             ConnectionPending,
			RequestedAtSeconds: s.now().UTC().Unix(),
		}).Error; err != nil {
			return s.reporter.Fail(opRequestConnection, "insert_failed", err, logFields...)
		}
		stored, _, err := findConnection(tx, requesterID, addresseeID)
		if err != nil {
			return s.reporter.Fail(opRequestConnection, "reload_failed", err, logFields...)
		}
		connection = stored
		return nil
	})
	if err != nil {
		return Connection{}, err
	}
	return connection, nil
}

// AcceptConnection accepts the pending request from requester to addressee.
// The transition from pending to accepted happens once; only that call awards
// the connection XP to both players.
func (s *Service) AcceptConnection(ctx context.Context, addresseeID domain.UserID, requesterID domain.UserID) (Acceptance, error) {
	if s.awarder == nil {
		return Acceptance{}, serviceerr.New(opAcceptConnection, "missing_awarder", errMissingAwarder)
	}
	logFields := []zap.Field{
		zap.String(fieldRequesterID, requesterID.String()),
		zap.String(fieldAddresseeID, addresseeID.String()),
	}

	var acceptance Acceptance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&Connection{}).
			Where(queryConnectionPair+" AND status = ?", requesterID.String(), addresseeID.String(), ConnectionPending).
			Updates(map[string]any{
				"status":        ConnectionAccepted,
				"accepted_at_s": s.now().UTC().Unix(),
			})
		if update.Error != nil {
			return s.reporter.Fail(opAcceptConnection, "update_failed", update.Error, logFields...)
		}

		connection, found, err := findConnection(tx, requesterID, addresseeID)
		if err != nil {
			return s.reporter.Fail(opAcceptConnection, "reload_failed", err, logFields...)
		}
		if !found {
			return ErrConnectionNotFound
		}
		acceptance.Connection = connection
		if update.RowsAffected == 0 {
			return nil
		}

		acceptance.NewlyAccepted = true
		for _, userID := range []domain.UserID{requesterID, addresseeID} {
			award, err := s.awarder.AwardConnectionXPTx(tx, userID)
			if err != nil {
				return err
			}
			acceptance.Awards = append(acceptance.Awards, award)
		}
		return nil
	})
	if err != nil {
		return Acceptance{}, err
	}
	return acceptance, nil
}

func findConnection(db *gorm.DB, requesterID domain.UserID, addresseeID domain.UserID) (Connection, bool, error) {
	var connection Connection
	err := db.Where(queryConnectionPair, requesterID.String(), addresseeID.String()).Take(&connection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Connection{}, false, nil
	}
	if err != nil {
		return Connection{}, false, err
	}
	return connection, true, nil
}
