package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/log"
	"github.com/terminalnexus/tnchat/internal/store/sqlite"
	transporthttp "github.com/terminalnexus/tnchat/internal/transport/http"
)

type fixture struct {
	client *Client
	hub    *broker.Hub
}

func startBroker(t *testing.T) fixture {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "api-test"

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := broker.NewHub(st, log.Nop())
	go hub.Run(ctx)

	ts := httptest.NewServer(transporthttp.NewServer(hub, authService, st, &cfg, log.Nop()).Handler)
	t.Cleanup(ts.Close)

	return fixture{client: New(ts.URL+"/", ""), hub: hub}
}

func TestClientAuthFlow(t *testing.T) {
	f := startBroker(t)
	ctx := context.Background()

	token, err := f.client.Register(ctx, "alice", "password123")
	if err != nil || token == "" {
		t.Fatalf("register: %q %v", token, err)
	}

	_, err = f.client.Register(ctx, "alice", "password123")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 409 || se.Message != "user already exists" {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := f.client.Login(ctx, "alice", "nope-nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	token, err = f.client.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	me, err := f.client.WithToken(token).Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Username != "alice" || me.IsGuest {
		t.Fatalf("unexpected identity %+v", me)
	}

	if _, err := f.client.Me(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}
}

func TestClientGuestAndQueries(t *testing.T) {
	f := startBroker(t)
	ctx := context.Background()

	token, err := f.client.Guest(ctx)
	if err != nil {
		t.Fatalf("guest: %v", err)
	}
	c := f.client.WithToken(token)
	if c.Token() != token || f.client.Token() != "" {
		t.Fatal("WithToken must not modify the receiver")
	}

	users, err := c.OnlineUsers(ctx, core.RoomPublic)
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", users)
	}

	alice := broker.NewClient("a", "alice", "1")
	f.hub.RegisterClient(alice)
	if err := f.hub.Submit(ctx, &broker.Command{Kind: broker.CommandAddUser, Client: alice, Room: core.RoomPublic}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.hub.Submit(ctx, &broker.Command{
		Kind:    broker.CommandSendMessage,
		Client:  alice,
		Room:    core.RoomPublic,
		Message: core.Message{Text: "hello"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	users, err = c.OnlineUsers(ctx, core.RoomPublic)
	if err != nil || len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected alice, got %v %v", users, err)
	}

	rooms, err := c.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %+v", rooms)
	}

	history, err := c.History(ctx, core.RoomPublic, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" || history[0].Sender != "alice" || history[0].ID == 0 {
		t.Fatalf("unexpected history: %+v", history)
	}

	older, err := c.History(ctx, core.RoomPublic, 10, history[0].ID)
	if err != nil || len(older) != 0 {
		t.Fatalf("expected no older messages, got %+v %v", older, err)
	}
}
