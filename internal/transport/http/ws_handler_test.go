package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestStompConnectNegotiation(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) { cfg.Heartbeat = 4 * time.Second })

	_, connected := env.connect(t,
		frame.AcceptVersion, "1.1,1.2",
		frame.HeartBeat, "4000,4000",
		frame.Login, "alice")

	if v := connected.Header.Get(frame.Version); v != "1.2" {
		t.Fatalf("expected version 1.2, got %q", v)
	}
	if hb := connected.Header.Get(frame.HeartBeat); hb != "4000,4000" {
		t.Fatalf("unexpected heart-beat header %q", hb)
	}
	if name := connected.Header.Get("user-name"); name != "alice" {
		t.Fatalf("unexpected user-name %q", name)
	}
	if connected.Header.Get(frame.Session) == "" {
		t.Fatal("expected session header")
	}
}

func TestStompGuestNameWithoutLogin(t *testing.T) {
	env := startTestServer(t, nil)

	_, connected := env.connect(t)
	name := connected.Header.Get("user-name")
	if len(name) != len("guest_")+8 || name[:6] != "guest_" {
		t.Fatalf("unexpected guest name %q", name)
	}
}

func TestStompProtocolVersionMismatch(t *testing.T) {
	env := startTestServer(t, nil)

	conn := env.dial(t, nil)
	writeFrame(t, conn, frame.New(frame.CONNECT, frame.AcceptVersion, "2.0", frame.Login, "alice"))

	errFrame := mustFrame(t, conn, frame.ERROR)
	if v := errFrame.Header.Get(frame.Version); v != "1.2,1.1,1.0" {
		t.Fatalf("expected supported versions header, got %q", v)
	}
}

func TestStompRequiresConnectFirst(t *testing.T) {
	env := startTestServer(t, nil)

	conn := env.dial(t, nil)
	writeFrame(t, conn, frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, "/topic/public"))

	errFrame := mustFrame(t, conn, frame.ERROR)
	if string(errFrame.Body) != core.ErrCodeBadRequest {
		t.Fatalf("unexpected error body %q", errFrame.Body)
	}
}

func TestStompRejectsInvalidLogin(t *testing.T) {
	env := startTestServer(t, nil)

	conn := env.dial(t, nil)
	writeFrame(t, conn, frame.New(frame.CONNECT, frame.AcceptVersion, "1.2", frame.Login, core.SystemName))

	errFrame := mustFrame(t, conn, frame.ERROR)
	if string(errFrame.Body) != core.ErrCodeUnauthorized {
		t.Fatalf("unexpected error body %q", errFrame.Body)
	}
}

func TestStompChatRoundTrip(t *testing.T) {
	env := startTestServer(t, nil)

	alice, _ := env.connect(t, frame.Login, "alice")
	bob, _ := env.connect(t, frame.Login, "bob")
	subscribe(t, alice, "sub-a", proto.TopicFor(core.RoomPublic))
	subscribe(t, bob, "sub-b", proto.TopicFor(core.RoomPublic))

	sendJSON(t, alice, proto.JoinTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeJoin, Sender: "alice"})
	f, join := mustMessage(t, bob, proto.TypeJoin)
	if join.Sender != "alice" || join.RoomID != core.RoomPublic {
		t.Fatalf("unexpected join payload: %+v", join)
	}
	if f.Header.Get(frame.Subscription) != "sub-b" || f.Header.Get(frame.Destination) != "/topic/public" {
		t.Fatalf("unexpected MESSAGE headers: %v", f.Header)
	}
	if f.Header.Get(frame.MessageId) == "" {
		t.Fatal("expected message-id header")
	}

	sendJSON(t, alice, proto.SendTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeChat, Sender: "mallory", Content: "hi there"})
	_, chat := mustMessage(t, bob, proto.TypeChat)
	if chat.Sender != "alice" || chat.Content != "hi there" || chat.Timestamp == nil {
		t.Fatalf("unexpected chat payload: %+v", chat)
	}
	if chat.RoomType != proto.RoomTypePublic {
		t.Fatalf("unexpected room type %q", chat.RoomType)
	}
}

func TestStompWhisper(t *testing.T) {
	env := startTestServer(t, nil)

	alice, _ := env.connect(t, frame.Login, "alice")
	bob, _ := env.connect(t, frame.Login, "bob")
	subscribe(t, alice, "w-a", proto.WhisperQueue)
	subscribe(t, bob, "w-b", proto.WhisperQueue)

	sendJSON(t, bob, proto.JoinTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeJoin}, frame.Receipt, "joined")
	mustFrame(t, bob, frame.RECEIPT)

	sendJSON(t, alice, proto.WhisperSend, proto.ChatMessage{Type: proto.TypeWhisper, Receiver: "bob", Content: "psst"})

	f, got := mustMessage(t, bob, proto.TypeWhisper)
	if got.Sender != "alice" || got.Receiver != "bob" || got.Content != "psst" {
		t.Fatalf("unexpected whisper: %+v", got)
	}
	if f.Header.Get(frame.Subscription) != "w-b" {
		t.Fatalf("unexpected subscription header %q", f.Header.Get(frame.Subscription))
	}
	_, echo := mustMessage(t, alice, proto.TypeWhisper)
	if echo.Receiver != "bob" {
		t.Fatalf("unexpected echo: %+v", echo)
	}

	sendJSON(t, alice, proto.WhisperSend, proto.ChatMessage{Type: proto.TypeWhisper, Receiver: "carol", Content: "hello?"})
	_, notice := mustMessage(t, alice, proto.TypeChat)
	if notice.Sender != core.SystemName || notice.Content != "carol is offline" {
		t.Fatalf("unexpected offline notice: %+v", notice)
	}
}

func TestStompUnsubscribeStopsDelivery(t *testing.T) {
	env := startTestServer(t, nil)

	alice, _ := env.connect(t, frame.Login, "alice")
	subscribe(t, alice, "room", proto.TopicFor(core.RoomPublic))
	subscribe(t, alice, "whisper", proto.WhisperQueue)

	writeFrame(t, alice, frame.New(frame.UNSUBSCRIBE, frame.Id, "room", frame.Receipt, "gone"))
	mustFrame(t, alice, frame.RECEIPT)

	// Joining public is not echoed any more, but an offline notice still arrives
	// on the whisper queue, proving the session is alive.
	sendJSON(t, alice, proto.JoinTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeJoin})
	sendJSON(t, alice, proto.WhisperSend, proto.ChatMessage{Type: proto.TypeWhisper, Receiver: "nobody", Content: "x"})

	f := mustFrame(t, alice, frame.MESSAGE)
	if f.Header.Get(frame.Subscription) != "whisper" {
		t.Fatalf("unexpected delivery after unsubscribe: %v %s", f.Header, f.Body)
	}
}

func TestStompBadPayloadKeepsSession(t *testing.T) {
	env := startTestServer(t, nil)

	alice, _ := env.connect(t, frame.Login, "alice")

	bad := frame.New(frame.SEND,
		frame.Destination, proto.SendTo(core.RoomPublic),
		frame.Receipt, "bad")
	bad.Body = []byte("{not json")
	writeFrame(t, alice, bad)

	errFrame := mustFrame(t, alice, frame.ERROR)
	if errFrame.Header.Get(frame.ReceiptId) != "bad" {
		t.Fatalf("expected receipt-id on error, got %v", errFrame.Header)
	}

	sendJSON(t, alice, "/app/unknown", proto.ChatMessage{Type: proto.TypeChat, Content: "x"}, frame.Receipt, "unknown")
	errFrame = mustFrame(t, alice, frame.ERROR)
	if string(errFrame.Body) != core.ErrCodeUnknownDestination {
		t.Fatalf("unexpected error body %q", errFrame.Body)
	}

	subscribe(t, alice, "still-alive", proto.TopicFor(core.RoomPublic))
}

func TestStompUnknownSubscriptionClosesSession(t *testing.T) {
	env := startTestServer(t, nil)

	alice, _ := env.connect(t, frame.Login, "alice")
	writeFrame(t, alice, frame.New(frame.SUBSCRIBE, frame.Id, "x", frame.Destination, "/queue/secret"))

	errFrame := mustFrame(t, alice, frame.ERROR)
	if string(errFrame.Body) != core.ErrCodeUnknownDestination {
		t.Fatalf("unexpected error body %q", errFrame.Body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, err := alice.ReadFrame(ctx); err != nil {
			return
		}
	}
}

func TestStompDisconnectReceipt(t *testing.T) {
	env := startTestServer(t, nil)

	watcher, _ := env.connect(t, frame.Login, "watcher")
	subscribe(t, watcher, "sub", proto.TopicFor(core.RoomPublic))

	alice, _ := env.connect(t, frame.Login, "alice")
	sendJSON(t, alice, proto.JoinTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeJoin})
	mustMessage(t, watcher, proto.TypeJoin)

	writeFrame(t, alice, frame.New(frame.DISCONNECT, frame.Receipt, "bye"))
	r := mustFrame(t, alice, frame.RECEIPT)
	if r.Header.Get(frame.ReceiptId) != "bye" {
		t.Fatalf("unexpected receipt %v", r.Header)
	}

	_, leave := mustMessage(t, watcher, proto.TypeLeave)
	if leave.Sender != "alice" {
		t.Fatalf("unexpected leave: %+v", leave)
	}
}

func TestStompRateLimit(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) { cfg.RateLimitPerMin = 1 })

	alice, _ := env.connect(t, frame.Login, "alice")
	sendJSON(t, alice, proto.SendTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeChat, Content: "one"}, frame.Receipt, "1")
	mustFrame(t, alice, frame.RECEIPT)

	sendJSON(t, alice, proto.SendTo(core.RoomPublic), proto.ChatMessage{Type: proto.TypeChat, Content: "two"}, frame.Receipt, "2")
	errFrame := mustFrame(t, alice, frame.ERROR)
	if string(errFrame.Body) != core.ErrCodeRateLimited {
		t.Fatalf("unexpected error body %q", errFrame.Body)
	}
}
