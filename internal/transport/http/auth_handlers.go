package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/store"
)

const guestCookie = "guest_session"

// AuthHandlers serves token issuance and identity lookups.
type AuthHandlers struct {
	auth *auth.Service
	log  *zerolog.Logger
}

// NewAuthHandlers creates the handlers of the /api/register, /api/login,
// /api/guest and /api/me endpoints.
func NewAuthHandlers(authService *auth.Service, logger *zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{auth: authService, log: logger}
}

// CredentialsRequest is the body of register and login requests.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries an issued token.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register creates an account.
// POST /api/register
func (h *AuthHandlers) Register(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	token, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, "register", req.Username, err)
		return
	}
	h.log.Info().Str("username", req.Username).Msg("user registered")
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login issues a token for an existing account.
// POST /api/login
func (h *AuthHandlers) Login(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, "login", req.Username, err)
		return
	}
	h.log.Info().Str("username", req.Username).Msg("user logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Guest issues a guest token. The guest session cookie lets a browser keep its
// guest name across visits.
// POST /api/guest
func (h *AuthHandlers) Guest(c *gin.Context) {
	previous, _ := c.Cookie(guestCookie)
	token, sessionID, err := h.auth.Guest(c.Request.Context(), previous)
	if err != nil {
		h.fail(c, "guest", "", err)
		return
	}
	c.SetCookie(guestCookie, sessionID, 7*24*3600, "/", "", false, true)
	h.log.Info().Str("session_id", sessionID[:8]).Msg("guest user created")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Me returns the identity behind the bearer token.
// GET /api/me
func (h *AuthHandlers) Me(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	identity, err := h.auth.Me(c.Request.Context(), claims)
	if err != nil {
		h.fail(c, "me", claims.Username, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *AuthHandlers) bind(c *gin.Context) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid credentials body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return req, false
	}
	return req, true
}

func (h *AuthHandlers) fail(c *gin.Context, op, username string, err error) {
	status, msg := authStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("op", op).Str("username", username).Msg("auth request failed")
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

// authStatus maps auth service errors to a status and a client-facing message.
func authStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, "user already exists"
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusUnauthorized, "user no longer exists"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
