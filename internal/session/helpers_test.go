package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// fakeBroker is an in-memory STOMP peer. It answers CONNECT and receipts
// synchronously and records everything the client sends.
type fakeBroker struct {
	mu           sync.Mutex
	heartBeat    string
	reject       string
	holdReceipts bool
	refuse       string
	dialErr      error
	dials        int
	current      *fakeTransport
	subs         map[string]string
	log          []string
	sends        []*frame.Frame
	connects     []*frame.Frame
	beats        int
	seq          int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{heartBeat: "0,0", subs: make(map[string]string)}
}

func (b *fakeBroker) Dial(ctx context.Context) (Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	t := &fakeTransport{broker: b, in: make(chan *frame.Frame, 1024), closed: make(chan struct{})}
	b.current = t
	b.subs = make(map[string]string)
	return t, nil
}

func (b *fakeBroker) setDialErr(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// drop simulates a network failure of the live transport.
func (b *fakeBroker) drop() {
	b.mu.Lock()
	t := b.current
	b.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// deliver broadcasts msg to every subscription of dest and returns how many frames were queued.
func (b *fakeBroker) deliver(t *testing.T, dest string, msg proto.ChatMessage) int {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b.deliverRaw(dest, body)
}

func (b *fakeBroker) deliverRaw(dest string, body []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return 0
	}
	n := 0
	for id, d := range b.subs {
		if d != dest {
			continue
		}
		b.seq++
		f := frame.New(frame.MESSAGE,
			frame.Subscription, id,
			frame.Destination, dest,
			frame.MessageId, fmt.Sprintf("m-%d", b.seq))
		f.Body = body
		b.current.in <- f
		n++
	}
	return n
}

func (b *fakeBroker) sent(dest string) []proto.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []proto.ChatMessage
	for _, f := range b.sends {
		if f.Header.Get(frame.Destination) != dest {
			continue
		}
		var msg proto.ChatMessage
		if err := json.Unmarshal(f.Body, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (b *fakeBroker) subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, d := range b.subs {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

func (b *fakeBroker) history() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.log)
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) heartbeatCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.beats
}

type fakeTransport struct {
	broker *fakeBroker
	in     chan *frame.Frame
	closed chan struct{}
	once   sync.Once
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	select {
	case <-t.closed:
		return nil, io.EOF
	default:
	}
	select {
	case f := <-t.in:
		return f, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) WriteFrame(_ context.Context, f *frame.Frame) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	b := t.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	switch f.Command {
	case frame.CONNECT:
		b.connects = append(b.connects, f)
		if b.reject != "" {
			t.in <- frame.New(frame.ERROR, frame.Message, b.reject)
			return nil
		}
		t.in <- frame.New(frame.CONNECTED, frame.Version, proto.ProtocolVersion, frame.HeartBeat, b.heartBeat)
	case frame.SUBSCRIBE:
		dest := f.Header.Get(frame.Destination)
		if dest == b.refuse {
			b.log = append(b.log, "REFUSE "+dest)
			t.in <- frame.New(frame.ERROR,
				frame.ReceiptId, f.Header.Get(frame.Receipt),
				frame.Message, "subscription refused")
			return nil
		}
		b.subs[f.Header.Get(frame.Id)] = dest
		b.log = append(b.log, "SUBSCRIBE "+dest)
		t.receiptLocked(f)
	case frame.UNSUBSCRIBE:
		id := f.Header.Get(frame.Id)
		b.log = append(b.log, "UNSUBSCRIBE "+b.subs[id])
		delete(b.subs, id)
		t.receiptLocked(f)
	case frame.SEND:
		b.sends = append(b.sends, f)
		b.log = append(b.log, "SEND "+f.Header.Get(frame.Destination))
	case frame.DISCONNECT:
		b.log = append(b.log, "DISCONNECT")
	}
	return nil
}

func (t *fakeTransport) receiptLocked(f *frame.Frame) {
	if r := f.Header.Get(frame.Receipt); r != "" && !t.broker.holdReceipts {
		t.in <- frame.New(frame.RECEIPT, frame.ReceiptId, r)
	}
}

func (t *fakeTransport) WriteHeartbeat(context.Context) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.broker.mu.Lock()
	t.broker.beats++
	t.broker.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// fakeFetcher serves presence lists and records which rooms were asked for.
type fakeFetcher struct {
	mu    sync.Mutex
	lists map[string][]string
	calls []string
}

func newFakeFetcher(lists map[string][]string) *fakeFetcher {
	if lists == nil {
		lists = make(map[string][]string)
	}
	return &fakeFetcher{lists: lists}
}

func (f *fakeFetcher) OnlineUsers(_ context.Context, room string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, room)
	return slices.Clone(f.lists[room]), nil
}

func (f *fakeFetcher) set(room string, users ...string) {
	f.mu.Lock()
	f.lists[room] = users
	f.mu.Unlock()
}

func (f *fakeFetcher) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func testOptions(nick string) Options {
	return Options{
		UserID:   "id-" + nick,
		Nickname: nick,
		Conn: ConnOptions{
			HeartbeatOutgoing: -1,
			HeartbeatIncoming: -1,
			ReconnectDelay:    20 * time.Millisecond,
			ReceiptTimeout:    time.Second,
		},
	}
}

// startSession runs a session against b and connects it.
func startSession(t *testing.T, b *fakeBroker, fetcher PresenceFetcher, nick string) *Session {
	t.Helper()
	s := New(b, fetcher, testOptions(nick), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		_ = s.Close()
		cancel()
	})
	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()
	if err := s.Connect(cctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func mustEvent(t *testing.T, events <-chan core.Event, match func(core.Event) bool) core.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event")
		}
	}
}

func ofKind(kind core.EventKind) func(core.Event) bool {
	return func(ev core.Event) bool { return ev.Kind == kind }
}

func stateIs(st State) func(core.Event) bool {
	return func(ev core.Event) bool { return ev.Kind == core.EventState && ev.State == st.String() }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// pump handles everything currently queued without a running loop.
func pump(s *Session) {
	for {
		it, ok := s.inbox.pop()
		if !ok {
			return
		}
		s.handle(it)
	}
}
