// Package domain holds the validated identifier types shared across the
// progression, unlock, and ranking services.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("domain: invalid user id")
	// ErrInvalidMediaID indicates that a media identifier is empty or exceeds storage bounds.
	ErrInvalidMediaID = errors.New("domain: invalid media id")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// MediaID represents a validated media identifier.
type MediaID string

// NewMediaID validates raw input and returns a MediaID.
func NewMediaID(rawInput string) (MediaID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMediaID, err)
	}
	return MediaID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MediaID) String() string {
	return string(id)
}

// MediaIDStrings converts identifiers to their raw form.
func MediaIDStrings(ids []MediaID) []string {
	if len(ids) == 0 {
		return nil
	}
	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}
	return values
}

func validateIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return trimmed, nil
}
