// Package players owns the player-facing records around progression:
// identities and locations, collectible cards, and social connections.
package players

import (
	"strings"
	"time"
)

// Profile maps a provider login to the canonical user id and carries the
// location used by scoped rankings.
type Profile struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	State       string    `gorm:"column:state;size:120;not null;default:''"`
	City        string    `gorm:"column:city;size:120;not null;default:''"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing player profiles.
func (Profile) TableName() string {
	return "player_profiles"
}

// Location is the state and city a player reports.
type Location struct {
	State string `json:"state"`
	City  string `json:"city"`
}

// OwnedCard is one collectible instance owned by a player.
type OwnedCard struct {
	CardInstanceID    string `gorm:"column:card_instance_id;primaryKey;size:64;not null"`
	UserID            string `gorm:"column:user_id;size:190;not null;index"`
	CardID            string `gorm:"column:card_id;size:190;not null"`
	AcquiredAtSeconds int64  `gorm:"column:acquired_at_s;not null"`
}

// TableName exposes the table backing owned cards.
func (OwnedCard) TableName() string {
	return "player_cards"
}

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

const (
	// ConnectionPending awaits the addressee's acceptance.
	ConnectionPending ConnectionStatus = "pending"
	// ConnectionAccepted is a mutual connection.
	ConnectionAccepted ConnectionStatus = "accepted"
)

// Connection is a directed connection request between two players.
type Connection struct {
	RequesterID        string           `gorm:"column:requester_id;primaryKey;size:190;not null"`
	AddresseeID        string           `gorm:"column:addressee_id;primaryKey;size:190;not null;index"`
	Status             ConnectionStatus `gorm:"column:status;size:16;not null"`
	RequestedAtSeconds int64            `gorm:"column:requested_at_s;not null"`
	AcceptedAtSeconds  int64            `gorm:"column:accepted_at_s;not null;default:0"`
}

// TableName exposes the table backing connections.
func (Connection) TableName() string {
	return "player_connections"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
