package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// User represents a registered or guest user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Message represents a persisted room message.
type Message struct {
	ID        int64
	Room      string
	Type      string
	Sender    string
	SenderID  string
	Body      string
	Anonymous bool
	CreatedAt time.Time
}

// UserStore defines user persistence operations.
type UserStore interface {
	// CreateUser creates a new user with the given password hash.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary user bound to a session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername returns registered (non-guest) users only.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)
}

// MessageStore defines room history operations.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit messages of a room in chronological order,
	// older than beforeID when it is set.
	ListMessages(ctx context.Context, room string, limit int, beforeID *int64) ([]*Message, error)
}

// Store combines every persistence concern of the broker.
type Store interface {
	UserStore
	MessageStore
	Close() error
}
