// Package api is the client of the broker REST API: token issuance, identity,
// presence, rooms and history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Message is a stored chat message returned by History.
type Message struct {
	ID int64 `json:"id"`
	proto.ChatMessage
}

// Client talks to one broker. It is safe for concurrent use.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the API rooted at base, e.g. http://localhost:8080.
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken returns a copy of the client authenticating with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	err := c.do(ctx, http.MethodPost, "/api/register", credentials{username, password}, &out)
	return out.Token, err
}

// Login returns a token for an existing account.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	err := c.do(ctx, http.MethodPost, "/api/login", credentials{username, password}, &out)
	return out.Token, err
}

// Guest returns a token for a fresh guest identity.
func (c *Client) Guest(ctx context.Context) (string, error) {
	var out tokenResponse
	err := c.do(ctx, http.MethodPost, "/api/guest", nil, &out)
	return out.Token, err
}

// Me returns the identity behind the client's token.
func (c *Client) Me(ctx context.Context) (auth.Identity, error) {
	var out auth.Identity
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &out)
	return out, err
}

// OnlineUsers returns the nicknames present in room. It satisfies the presence
// fetcher used by chat sessions.
func (c *Client) OnlineUsers(ctx context.Context, room string) ([]string, error) {
	path := "/api/chat/users"
	if room != "" {
		path += "?roomId=" + url.QueryEscape(room)
	}
	var out []string
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Rooms lists the rooms known to the broker.
func (c *Client) Rooms(ctx context.Context) ([]proto.RoomInfo, error) {
	var out []proto.RoomInfo
	err := c.do(ctx, http.MethodGet, "/api/chat/rooms", nil, &out)
	return out, err
}

// History returns up to limit stored messages of room, oldest first. A positive
// before restricts the page to messages older than that id.
func (c *Client) History(ctx context.Context, room string, limit int, before int64) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	path := "/api/chat/rooms/" + url.PathEscape(room) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
