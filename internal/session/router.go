package session

import (
	"context"
	"fmt"

	"github.com/terminalnexus/tnchat/internal/proto"
)

// subscriber is the part of the connection manager the router needs.
type subscriber interface {
	Subscribe(ctx context.Context, id, destination string) error
	Unsubscribe(ctx context.Context, id string) error
}

// Router maps the active room and the whisper queue to broker subscription ids.
// At most one room is subscribed at any time.
type Router struct {
	conn    subscriber
	discard func(sub string) int

	room       string
	roomSub    string
	whisperSub string
	seq        int
}

// NewRouter creates a router. discard removes queued frames of a released subscription.
func NewRouter(conn subscriber, discard func(sub string) int) *Router {
	if discard == nil {
		discard = func(string) int { return 0 }
	}
	return &Router{conn: conn, discard: discard}
}

// Room returns the subscribed room, or "" when none is.
func (r *Router) Room() string { return r.room }

// RoomSub returns the subscription id of the active room.
func (r *Router) RoomSub() string { return r.roomSub }

// WhisperSub returns the subscription id of the whisper queue.
func (r *Router) WhisperSub() string { return r.whisperSub }

// Active reports whether frames for sub should still be processed.
func (r *Router) Active(sub string) bool {
	return sub != "" && (sub == r.roomSub || sub == r.whisperSub)
}

// SubscribeRoom switches the room subscription. The previous room is unsubscribed
// and its receipt awaited before the new SUBSCRIBE goes out.
func (r *Router) SubscribeRoom(ctx context.Context, room string) error {
	if err := r.UnsubscribeRoom(ctx); err != nil {
		return err
	}
	id := r.nextID("room")
	if err := r.conn.Subscribe(ctx, id, proto.TopicFor(room)); err != nil {
		return err
	}
	r.room, r.roomSub = room, id
	return nil
}

// UnsubscribeRoom releases the room subscription and drops its unprocessed frames.
// It is a no-op when no room is subscribed.
func (r *Router) UnsubscribeRoom(ctx context.Context) error {
	if r.roomSub == "" {
		return nil
	}
	id := r.roomSub
	r.room, r.roomSub = "", ""
	r.discard(id)
	return r.conn.Unsubscribe(ctx, id)
}

// SubscribeWhispers establishes the whisper-queue subscription once per connection.
func (r *Router) SubscribeWhispers(ctx context.Context) error {
	if r.whisperSub != "" {
		return nil
	}
	id := r.nextID("whisper")
	if err := r.conn.Subscribe(ctx, id, proto.WhisperQueue); err != nil {
		return err
	}
	r.whisperSub = id
	return nil
}

// Reset forgets every handle without talking to the broker. Used when the
// transport is gone and its subscriptions died with it.
func (r *Router) Reset() {
	r.discard(r.roomSub)
	r.discard(r.whisperSub)
	r.room, r.roomSub, r.whisperSub = "", "", ""
}

// Close releases the room and whisper subscriptions.
func (r *Router) Close(ctx context.Context) error {
	err := r.UnsubscribeRoom(ctx)
	if r.whisperSub != "" {
		id := r.whisperSub
		r.whisperSub = ""
		r.discard(id)
		if uerr := r.conn.Unsubscribe(ctx, id); err == nil {
			err = uerr
		}
	}
	return err
}

func (r *Router) nextID(kind string) string {
	r.seq++
	return fmt.Sprintf("sub-%s-%d", kind, r.seq)
}
