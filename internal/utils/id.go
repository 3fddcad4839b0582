package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier suitable for session ids and STOMP message ids.
func NewID() string {
	return uuid.NewString()
}

// NewShortID returns the first 8 hex characters of a random identifier.
// Used where ids appear in human-facing names (guest nicknames, receipts in logs).
func NewShortID() string {
	id := uuid.New()
	return id.String()[:8]
}
