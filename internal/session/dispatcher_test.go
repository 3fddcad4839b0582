package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Router) {
	t.Helper()
	r := NewRouter(newRecordingSubscriber(), nil)
	ctx := context.Background()
	if err := r.SubscribeWhispers(ctx); err != nil {
		t.Fatalf("whispers: %v", err)
	}
	if err := r.SubscribeRoom(ctx, "public"); err != nil {
		t.Fatalf("room: %v", err)
	}
	logger := zerolog.Nop()
	return NewDispatcher(r, &logger), r
}

func messageFrame(t *testing.T, sub, dest string, msg proto.ChatMessage) *frame.Frame {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f := frame.New(frame.MESSAGE, frame.Subscription, sub, frame.Destination, dest)
	f.Body = body
	return f
}

func TestDispatcherRoutesByType(t *testing.T) {
	d, r := newTestDispatcher(t)
	var seen []string
	d.Handle(core.MessageChat, func(m core.Message) { seen = append(seen, "chat:"+m.Text+"@"+m.Room) })
	d.Handle(core.MessageJoin, func(m core.Message) { seen = append(seen, "join:"+m.From) })
	d.HandleWhisper(func(m core.Message) { seen = append(seen, "whisper:"+m.From+">"+m.To) })

	frames := []*frame.Frame{
		messageFrame(t, r.RoomSub(), "/topic/public", proto.ChatMessage{Type: proto.TypeJoin, Sender: "carol"}),
		messageFrame(t, r.RoomSub(), "/topic/public", proto.ChatMessage{Type: proto.TypeChat, Sender: "carol", Content: "hi"}),
		messageFrame(t, r.WhisperSub(), proto.WhisperQueue, proto.ChatMessage{Type: proto.TypeWhisper, Sender: "bob", Receiver: "alice", Content: "psst"}),
	}
	for _, f := range frames {
		if err := d.Dispatch(f.Header.Get(frame.Subscription), f); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	want := []string{"join:carol", "chat:hi@public", "whisper:bob>alice"}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
}

func TestDispatcherDropsMalformedFrames(t *testing.T) {
	d, r := newTestDispatcher(t)
	called := false
	d.Handle(core.MessageChat, func(core.Message) { called = true })

	bad := frame.New(frame.MESSAGE, frame.Subscription, r.RoomSub(), frame.Destination, "/topic/public")
	bad.Body = []byte("{not json")
	err := d.Dispatch(r.RoomSub(), bad)
	var de *core.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Destination != "/topic/public" {
		t.Fatalf("unexpected destination %q", de.Destination)
	}

	unknown := messageFrame(t, r.RoomSub(), "/topic/public", proto.ChatMessage{Type: "SHOUT", Sender: "x"})
	if err := d.Dispatch(r.RoomSub(), unknown); !errors.As(err, &de) {
		t.Fatalf("expected DecodeError for unknown type, got %v", err)
	}
	if called {
		t.Fatalf("handler saw a malformed frame")
	}
}

func TestDispatcherDropsReleasedSubscriptions(t *testing.T) {
	d, r := newTestDispatcher(t)
	old := r.RoomSub()
	if err := r.SubscribeRoom(context.Background(), "anonymous"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	called := false
	d.Handle(core.MessageChat, func(core.Message) { called = true })

	f := messageFrame(t, old, "/topic/public", proto.ChatMessage{Type: proto.TypeChat, Sender: "x", Content: "late"})
	if err := d.Dispatch(old, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("frame of released subscription reached a handler")
	}
}

func TestDispatcherSurfacesBrokerErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var got *core.CoreError
	d.HandleBrokerError(func(ce *core.CoreError) { got = ce })

	if err := d.Dispatch("", frame.New(frame.ERROR, frame.Message, "unknown destination")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Code != core.ErrCodeBroker || got.Message != "unknown destination" {
		t.Fatalf("unexpected broker error: %+v", got)
	}
}
