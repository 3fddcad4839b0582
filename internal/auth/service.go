package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/terminalnexus/tnchat/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Identity is what a client needs to know about itself before it connects.
type Identity struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	IsGuest  bool   `json:"is_guest"`
}

// Service issues and checks chat access tokens.
type Service struct {
	users store.UserStore
	jwt   *JWTConfig
	now   func() time.Time
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwt: jwtConfig, now: time.Now}
}

// Register creates an account and returns its token.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return "", ErrInvalidUsername
	}
	if !validPassword(password) {
		return "", ErrInvalidPassword
	}

	_, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return "", ErrUserExists
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("lookup user: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return s.issue(user)
}

// Login checks credentials and returns a fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil || user.IsGuest || !passwordMatches(user.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}
	return s.issue(user)
}

// Guest issues a token for a guest identity. A known previous session id resumes
// that guest; otherwise a new guest named after a random session id is created.
func (s *Service) Guest(ctx context.Context, previous string) (token, sessionID string, err error) {
	if previous != "" {
		user, err := s.users.GetUserBySessionID(ctx, previous)
		switch {
		case err == nil:
			token, err = s.issue(user)
			return token, previous, err
		case !errors.Is(err, store.ErrNotFound):
			return "", "", fmt.Errorf("lookup guest: %w", err)
		}
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate session id: %w", err)
	}
	sessionID = hex.EncodeToString(b)

	user, err := s.users.CreateGuestUser(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("create guest user: %w", err)
	}
	token, err = s.issue(user)
	return token, sessionID, err
}

// Authenticate validates a token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return parseToken(s.jwt, token)
}

// Me returns the identity behind a set of claims, checking the user still exists.
func (s *Service) Me(ctx context.Context, claims *Claims) (Identity, error) {
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	return identityOf(user), nil
}

func (s *Service) issue(user *store.User) (string, error) {
	return issueToken(s.jwt, identityOf(user), s.now())
}

func identityOf(user *store.User) Identity {
	return Identity{UserID: user.ID, Username: user.Username, IsGuest: user.IsGuest}
}
