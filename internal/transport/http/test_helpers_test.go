package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/log"
	"github.com/terminalnexus/tnchat/internal/proto"
	"github.com/terminalnexus/tnchat/internal/stompws"
	"github.com/terminalnexus/tnchat/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	hub   *broker.Hub
	auth  *auth.Service
	store *sqlite.SQLiteStore
	cfg   config.Config
}

// startTestServer runs a broker with an in-memory store. mutate may adjust the
// configuration before the server is built.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.Heartbeat = 0
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := createTestAuthService(t, st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := broker.NewHub(st, log.Nop())
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, &cfg, log.Nop())
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, auth: authService, store: st, cfg: cfg}
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st *sqlite.SQLiteStore, cfg config.Config) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	return auth.NewService(st, jwtConfig)
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + WSPath
}

// dial opens a STOMP connection without sending CONNECT.
func (e *testEnv) dial(t *testing.T, header http.Header) *stompws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := stompws.Dial(ctx, e.wsURL(), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect performs the handshake and fails the test unless CONNECTED arrives.
func (e *testEnv) connect(t *testing.T, headers ...string) (*stompws.Conn, *frame.Frame) {
	t.Helper()
	conn := e.dial(t, nil)
	hello := frame.New(frame.CONNECT, append([]string{frame.AcceptVersion, "1.2"}, headers...)...)
	writeFrame(t, conn, hello)
	return conn, mustFrame(t, conn, frame.CONNECTED)
}

func writeFrame(t *testing.T, conn *stompws.Conn, f *frame.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.WriteFrame(ctx, f); err != nil {
		t.Fatalf("write %s: %v", f.Command, err)
	}
}

func sendJSON(t *testing.T, conn *stompws.Conn, dest string, msg proto.ChatMessage, headers ...string) {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f := frame.New(frame.SEND, append([]string{frame.Destination, dest, frame.ContentType, proto.ContentTypeJSON}, headers...)...)
	f.Body = body
	writeFrame(t, conn, f)
}

// subscribe subscribes and waits for the receipt.
func subscribe(t *testing.T, conn *stompws.Conn, id, dest string) {
	t.Helper()
	writeFrame(t, conn, frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, dest,
		frame.Receipt, "r-"+id))
	r := mustFrame(t, conn, frame.RECEIPT)
	if got := r.Header.Get(frame.ReceiptId); got != "r-"+id {
		t.Fatalf("unexpected receipt %q", got)
	}
}

// mustFrame reads until a frame with the given command arrives.
func mustFrame(t *testing.T, conn *stompws.Conn, command string) *frame.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", command, err)
		}
		if f != nil && f.Command == command {
			return f
		}
	}
}

// mustMessage reads MESSAGE frames until one carries a payload of the given type.
func mustMessage(t *testing.T, conn *stompws.Conn, msgType string) (*frame.Frame, proto.ChatMessage) {
	t.Helper()
	for {
		f := mustFrame(t, conn, frame.MESSAGE)
		var msg proto.ChatMessage
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			t.Fatalf("decode message body: %v", err)
		}
		if msg.Type == msgType {
			return f, msg
		}
	}
}

// doJSON performs a request against the test server and decodes a JSON response into out.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s: %v", path, err)
		}
	}
	return resp.StatusCode
}
