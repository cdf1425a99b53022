package players

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/auth"
	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew     = "players.service.new"
	opResolve        = "players.resolve_user"
	opUpdateLocation = "players.update_location"
	opLocations      = "players.locations"
	defaultProvider  = "default"
	maxLocationChars = 120
	fieldUserID      = "user_id"
	queryUserID      = fieldUserID + " = ?"
	queryIdentity    = "provider = ? AND subject = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("players: invalid identity")
	// ErrInvalidLocation indicates a state or city that exceeds storage bounds.
	ErrInvalidLocation = errors.New("players: invalid location")
)

// ConnectionAwarder credits the accepted-connection reward inside the acceptance transaction.
type ConnectionAwarder interface {
	AwardConnectionXPTx(tx *gorm.DB, userID domain.UserID) (progression.Award, error)
}

// ServiceConfig describes the dependencies required by the player service.
type ServiceConfig struct {
	Database    *gorm.DB
	Awarder     ConnectionAwarder
	Clock       func() time.Time
	IDGenerator func() (string, error)
	Logger      *zap.Logger
}

// Service manages canonical user identifiers, locations, cards, and connections.
type Service struct {
	db       *gorm.DB
	awarder  ConnectionAwarder
	now      func() time.Time
	newID    func() (string, error)
	cache    sync.Map
	reporter serviceerr.Reporter
}

// NewService constructs the player service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
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
		db:       cfg.Database,
		awarder:  cfg.Awarder,
		now:      clock,
		newID:    newID,
		reporter: serviceerr.NewReporter(cfg.Logger, "player service error"),
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims,
// creating the profile when the provider and subject pair is new.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (domain.UserID, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(domain.UserID); ok {
			return canonicalIdentifier, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).
		Where(queryIdentity, provider, subject).
		First(&profile).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		userID, idErr := domain.NewUserID(subject)
		if idErr != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, idErr)
		}
		profile = Profile{
			Provider:    provider,
			Subject:     subject,
			UserID:      userID.String(),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return "", s.reporter.Fail(opResolve, "profile_insert_failed", err, zap.String(fieldUserID, profile.UserID))
		}
	case err != nil:
		return "", s.reporter.Fail(opResolve, "profile_query_failed", err)
	default:
		updates := map[string]any{"last_seen_at": s.now()}
		if email := normalize(claims.UserEmail); email != "" && email != profile.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != profile.DisplayName {
			updates["user_display_name"] = display
		}
		if err := s.db.WithContext(ctx).Model(&Profile{}).
			Where(queryIdentity, provider, subject).
			Updates(updates).Error; err != nil {
			return "", s.reporter.Fail(opResolve, "profile_update_failed", err, zap.String(fieldUserID, profile.UserID))
		}
	}

	canonical := domain.UserID(profile.UserID)
	s.cache.Store(cacheKey, canonical)
	return canonical, nil
}

// UpdateLocation stores the player's state and city on every profile of the user.
func (s *Service) UpdateLocation(ctx context.Context, userID domain.UserID, location Location) (Location, error) {
	normalized := Location{State: normalize(location.State), City: normalize(location.City)}
	if len(normalized.State) > maxLocationChars || len(normalized.City) > maxLocationChars {
		return Location{}, ErrInvalidLocation
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&Profile{}).
			Where(queryUserID, userID.String()).
			Updates(map[string]any{"state": normalized.State, "city": normalized.City})
		if update.Error != nil {
			return s.reporter.Fail(opUpdateLocation, "update_failed", update.Error, zap.String(fieldUserID, userID.String()))
		}
		if update.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&Profile{
			Provider:   defaultProvider,
			Subject:    userID.String(),
			UserID:     userID.String(),
			State:      normalized.State,
			City:       normalized.City,
			LastSeenAt: s.now(),
		}).Error; err != nil {
			return s.reporter.Fail(opUpdateLocation, "profile_insert_failed", err, zap.String(fieldUserID, userID.String()))
		}
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	return normalized, nil
}

// Locations returns the location of every player that has one.
func (s *Service) Locations(ctx context.Context) (map[string]Location, error) {
	var profiles []Profile
	if err := s.db.WithContext(ctx).Order("user_id ASC, provider ASC, subject ASC").Find(&profiles).Error; err != nil {
		return nil, s.reporter.Fail(opLocations, "query_failed", err)
	}
	locations := make(map[string]Location, len(profiles))
	for _, profile := range profiles {
		if profile.State == "" && profile.City == "" {
			continue
		}
		if _, ok := locations[profile.UserID]; ok {
			continue
		}
		locations[profile.UserID] = Location{State: profile.State, City: profile.City}
	}
	return locations, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
