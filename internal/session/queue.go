package session

import (
	"sync"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/core"
)

type itemKind int

const (
	itemFrame itemKind = iota
	itemState
	itemFailure
	itemCommand
	itemPresence
)

// item is one unit of work for the session loop.
type item struct {
	kind  itemKind
	sub   string
	frame *frame.Frame
	state State
	err   error
	cmd   core.Command
	room  string
	users []string
}

// inbox is an unbounded FIFO between the connection goroutines and the session
// loop. Pushing never blocks, so the reader keeps draining the socket while the
// loop waits on a receipt.
type inbox struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *inbox) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	return it, true
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// discard drops queued frames of subscription sub and returns how many were removed.
func (q *inbox) discard(sub string) int {
	if sub == "" {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, it := range q.items {
		if it.kind == itemFrame && it.sub == sub {
			continue
		}
		kept = append(kept, it)
	}
	removed := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

func (q *inbox) Deliver(f *frame.Frame) {
	q.push(item{kind: itemFrame, sub: f.Header.Get(frame.Subscription), frame: f})
}

func (q *inbox) Transition(st State) {
	q.push(item{kind: itemState, state: st})
}

func (q *inbox) Failed(err error) {
	q.push(item{kind: itemFailure, err: err})
}

// outbox holds events between the session loop and the Events channel. Pushing
// never blocks; past max entries the oldest event is dropped.
type outbox struct {
	mu      sync.Mutex
	events  []core.Event
	max     int
	dropped int
	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newOutbox(max int) *outbox {
	return &outbox{max: max, notify: make(chan struct{}, 1), closed: make(chan struct{})}
}

// push appends ev and returns the total number of events dropped so far when ev
// evicted an older one, or zero.
func (q *outbox) push(ev core.Event) int {
	q.mu.Lock()
	evicted := 0
	if q.max > 0 && len(q.events) >= q.max {
		q.events[0] = core.Event{}
		q.events = q.events[1:]
		q.dropped++
		evicted = q.dropped
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (q *outbox) pop() (core.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return core.Event{}, false
	}
	ev := q.events[0]
	q.events[0] = core.Event{}
	q.events = q.events[1:]
	return ev, true
}

// close marks the end of the stream. Events already queued are still forwarded.
func (q *outbox) close() {
	q.once.Do(func() { close(q.closed) })
}

// forward moves queued events to out until the outbox is closed, then flushes
// what fits into out without waiting and closes it.
func (q *outbox) forward(out chan<- core.Event) {
	defer close(out)
	for {
		ev, ok := q.pop()
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-q.closed:
				q.flush(out)
				return
			}
		}
		select {
		case out <- ev:
		case <-q.closed:
			q.flushFrom(out, ev)
			return
		}
	}
}

func (q *outbox) flush(out chan<- core.Event) {
	for {
		ev, ok := q.pop()
		if !ok {
			return
		}
		select {
		case out <- ev:
		default:
			return
		}
	}
}

func (q *outbox) flushFrom(out chan<- core.Event, ev core.Event) {
	select {
	case out <- ev:
	default:
		return
	}
	q.flush(out)
}
