package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/store"
)

func startHub(t *testing.T, messages store.MessageStore) *Hub {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(messages, nil)
	go hub.Run(ctx)
	return hub
}

func connectClient(t *testing.T, hub *Hub, id, name string, topics ...string) *Client {
	t.Helper()
	c := NewClient(id, name, "uid-"+name)
	hub.RegisterClient(c)
	for _, room := range topics {
		submit(t, hub, &Command{Kind: CommandSubscribe, Client: c, Room: room})
	}
	return c
}

func submit(t *testing.T, hub *Hub, cmd *Command) {
	t.Helper()
	if err := hub.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("submit %s: %v", cmd.Kind, err)
	}
}

// settle waits until every command submitted so far has been handled.
func settle(t *testing.T, hub *Hub) {
	t.Helper()
	if _, err := hub.Rooms(context.Background()); err != nil {
		t.Fatalf("rooms: %v", err)
	}
}

func mustDelivery(t *testing.T, ch <-chan Delivery, kind core.MessageType) Delivery {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case d := <-ch:
			if d.Message.Type == kind {
				return d
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected %s delivery not received", kind)
	return Delivery{}
}

func expectNoDelivery(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %+v", d)
	default:
	}
}

func drain(ch <-chan Delivery) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

type memoryMessages struct {
	mu   sync.Mutex
	msgs []store.Message
}

func (m *memoryMessages) SaveMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.msgs) + 1)
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memoryMessages) ListMessages(_ context.Context, room string, limit int, _ *int64) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for i := range m.msgs {
		if m.msgs[i].Room == room && len(out) < limit {
			msg := m.msgs[i]
			out = append(out, &msg)
		}
	}
	return out, nil
}

func (m *memoryMessages) saved() []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.msgs...)
}
