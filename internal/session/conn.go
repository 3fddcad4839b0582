package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
	"github.com/terminalnexus/tnchat/internal/stompws"
	"github.com/terminalnexus/tnchat/internal/utils"
)

var (
	errSendQueueFull     = errors.New("send queue full")
	errReceiptTimeout    = errors.New("receipt timeout")
	errConnectInProgress = errors.New("connect already in progress")
)

// Transport is an established STOMP connection.
type Transport interface {
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	WriteFrame(ctx context.Context, f *frame.Frame) error
	WriteHeartbeat(ctx context.Context) error
	Close() error
}

// Dialer opens transports to the broker.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebSocketDialer dials a STOMP-over-WebSocket endpoint.
type WebSocketDialer struct {
	URL       string
	Header    http.Header
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	conn, err := stompws.Dial(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(d.ReadLimit)
	return conn, nil
}

// Sink receives everything the connection produces. Calls must not block.
type Sink interface {
	Deliver(f *frame.Frame)
	Transition(st State)
	Failed(err error)
}

// ConnOptions tunes the connection manager. Zero values take client defaults;
// a negative heart-beat disables that direction.
type ConnOptions struct {
	Host              string
	Login             string
	Passcode          string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	ReconnectDelay    time.Duration
	FailureThreshold  int
	ReceiptTimeout    time.Duration
	WriteTimeout      time.Duration
	SendQueue         int
}

func (o ConnOptions) withDefaults() ConnOptions {
	def := config.DefaultClient()
	if o.Host == "" {
		o.Host = "/"
	}
	if o.HeartbeatOutgoing == 0 {
		o.HeartbeatOutgoing = def.HeartbeatOutgoing
	}
	if o.HeartbeatIncoming == 0 {
		o.HeartbeatIncoming = def.HeartbeatIncoming
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = def.FailureThreshold
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = def.ReceiptTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	return o
}

func (o ConnOptions) heartbeats() (send, recv time.Duration) {
	return max(o.HeartbeatOutgoing, 0), max(o.HeartbeatIncoming, 0)
}

// link is one live transport together with its writer queue.
type link struct {
	tr      Transport
	sendCh  chan *frame.Frame
	done    chan struct{}
	drained chan struct{}
	once    sync.Once
	send    time.Duration
	recv    time.Duration
}

func (l *link) enqueue(f *frame.Frame) error {
	select {
	case l.sendCh <- f:
		return nil
	default:
		return &core.TransportError{Op: strings.ToLower(f.Command), Err: errSendQueueFull}
	}
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		_ = l.tr.Close()
	})
}

// Conn is the connection manager. It is the only holder of the transport and
// drives the DISCONNECTED, CONNECTING, CONNECTED, RECONNECTING, CLOSED state machine.
type Conn struct {
	dialer Dialer
	opts   ConnOptions
	sink   Sink
	logger *zerolog.Logger

	mu       sync.Mutex
	state    State
	link     *link
	receipts map[string]chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConn creates a disconnected connection manager.
func NewConn(dialer Dialer, opts ConnOptions, sink Sink, logger *zerolog.Logger) *Conn {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Conn{
		dialer:   dialer,
		opts:     opts.withDefaults(),
		sink:     sink,
		logger:   logger,
		state:    StateDisconnected,
		receipts: make(map[string]chan error),
		closed:   make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker and completes the STOMP handshake. It fails with
// *core.TransportError when the broker is unreachable or rejects the session and
// with core.ErrClosed when Close runs first or concurrently.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return core.ErrClosed
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return &core.TransportError{Op: "connect", Err: errConnectInProgress}
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	l, err := c.establish(ctx)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		if l != nil {
			l.shutdown()
		}
		return core.ErrClosed
	}
	if err != nil {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("connect failed")
		return &core.TransportError{Op: "connect", Attempts: 1, Err: err}
	}
	c.attachLocked(l)
	c.mu.Unlock()
	return nil
}

// Subscribe sends SUBSCRIBE and waits for the broker's receipt.
func (c *Conn) Subscribe(ctx context.Context, id, destination string) error {
	receipt := c.newReceipt()
	f := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Receipt, receipt)
	return c.request(ctx, f, receipt)
}

// Unsubscribe sends UNSUBSCRIBE and waits for the broker's receipt.
func (c *Conn) Unsubscribe(ctx context.Context, id string) error {
	receipt := c.newReceipt()
	f := frame.New(frame.UNSUBSCRIBE,
		frame.Id, id,
		frame.Receipt, receipt)
	return c.request(ctx, f, receipt)
}

// Publish queues a SEND frame. It never waits for the network.
func (c *Conn) Publish(destination string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, proto.ContentTypeJSON)
	f.Body = body

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return core.ErrClosed
	}
	if c.link == nil || c.state != StateConnected {
		return core.ErrNotConnected
	}
	return c.link.enqueue(f)
}

// Close sends DISCONNECT, tears down the transport and stops reconnecting.
// Pending requests resolve with core.ErrClosed. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		l := c.link
		c.link = nil
		c.setStateLocked(StateClosed)
		c.failReceiptsLocked(core.ErrClosed)
		close(c.closed)
		c.mu.Unlock()

		if l != nil {
			c.disconnect(l)
		}
		c.wg.Wait()
	})
	return nil
}

func (c *Conn) disconnect(l *link) {
	bye := frame.New(frame.DISCONNECT, frame.Receipt, c.newReceipt())
	select {
	case l.sendCh <- bye:
		timer := time.NewTimer(c.opts.WriteTimeout)
		select {
		case <-l.drained:
		case <-l.done:
		case <-timer.C:
		}
		timer.Stop()
	default:
	}
	l.shutdown()
}

func (c *Conn) request(ctx context.Context, f *frame.Frame, receipt string) error {
	ch := make(chan error, 1)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	if c.link == nil || c.state != StateConnected {
		c.mu.Unlock()
		return core.ErrNotConnected
	}
	c.receipts[receipt] = ch
	if err := c.link.enqueue(f); err != nil {
		delete(c.receipts, receipt)
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.ReceiptTimeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.forget(receipt)
		return ctx.Err()
	case <-timer.C:
		c.forget(receipt)
		return &core.TransportError{Op: strings.ToLower(f.Command), Err: errReceiptTimeout}
	}
}

func (c *Conn) resolve(receipt string, err error) {
	c.mu.Lock()
	ch, ok := c.receipts[receipt]
	delete(c.receipts, receipt)
	c.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (c *Conn) forget(receipt string) {
	c.mu.Lock()
	delete(c.receipts, receipt)
	c.mu.Unlock()
}

func (c *Conn) failReceiptsLocked(err error) {
	for id, ch := range c.receipts {
		ch <- err
		delete(c.receipts, id)
	}
}

func (c *Conn) setStateLocked(st State) {
	if c.state == st {
		return
	}
	c.logger.Debug().Str("from", c.state.String()).Str("state", st.String()).Msg("connection state")
	c.state = st
	if c.sink != nil {
		c.sink.Transition(st)
	}
}

// attachLocked installs l as the live link and starts its goroutines. The state
// change is reported before the reader can deliver any frame.
func (c *Conn) attachLocked(l *link) {
	c.link = l
	c.setStateLocked(StateConnected)
	c.wg.Add(2)
	go c.readLoop(l)
	go c.writeLoop(l)
	c.logger.Info().
		Dur("heartbeat_send", l.send).
		Dur("heartbeat_recv", l.recv).
		Msg("connected")
}

// bind ties ctx to the lifetime of the manager.
func (c *Conn) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Conn) establish(ctx context.Context) (*link, error) {
	ctx, cancel := c.bind(ctx)
	defer cancel()

	tr, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	out, in := c.opts.heartbeats()
	hello := frame.New(frame.CONNECT,
		frame.AcceptVersion, proto.ProtocolVersion,
		frame.Host, c.opts.Host,
		frame.HeartBeat, stompws.FormatHeartBeat(out, in))
	if c.opts.Login != "" {
		hello.Header.Set(frame.Login, c.opts.Login)
	}
	if c.opts.Passcode != "" {
		hello.Header.Set(frame.Passcode, c.opts.Passcode)
	}

	hctx, hcancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer hcancel()

	fail := func(err error) (*link, error) {
		_ = tr.Close()
		return nil, err
	}
	if err := tr.WriteFrame(hctx, hello); err != nil {
		return fail(err)
	}
	var reply *frame.Frame
	for reply == nil {
		reply, err = tr.ReadFrame(hctx)
		if err != nil {
			return fail(err)
		}
	}
	switch reply.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		return fail(brokerError(reply))
	default:
		return fail(fmt.Errorf("unexpected %s frame during handshake", reply.Command))
	}

	peerSend, peerRecv, err := stompws.ParseHeartBeat(reply.Header.Get(frame.HeartBeat))
	if err != nil {
		return fail(fmt.Errorf("parse heart-beat: %w", err))
	}
	send, recv := stompws.Negotiate(out, in, peerSend, peerRecv)
	return &link{
		tr:      tr,
		sendCh:  make(chan *frame.Frame, c.opts.SendQueue),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		send:    send,
		recv:    recv,
	}, nil
}

func (c *Conn) readLoop(l *link) {
	defer c.wg.Done()
	timeout := stompws.ReadTimeout(l.recv)
	for {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}
		f, err := l.tr.ReadFrame(ctx)
		cancel()
		if err != nil {
			c.drop(l, err)
			return
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.RECEIPT:
			c.resolve(f.Header.Get(frame.ReceiptId), nil)
		case frame.ERROR:
			if id := f.Header.Get(frame.ReceiptId); id != "" {
				c.resolve(id, brokerError(f))
			}
			c.sink.Deliver(f)
		default:
			c.sink.Deliver(f)
		}
	}
}

func (c *Conn) writeLoop(l *link) {
	defer c.wg.Done()
	var beat <-chan time.Time
	if l.send > 0 {
		ticker := time.NewTicker(l.send)
		defer ticker.Stop()
		beat = ticker.C
	}
	for {
		select {
		case <-l.done:
			return
		case f := <-l.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
			err := l.tr.WriteFrame(ctx, f)
			cancel()
			if f.Command == frame.DISCONNECT {
				close(l.drained)
				return
			}
			if err != nil {
				c.drop(l, err)
				return
			}
		case <-beat:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
			err := l.tr.WriteHeartbeat(ctx)
			cancel()
			if err != nil {
				c.drop(l, err)
				return
			}
		}
	}
}

// drop handles the loss of l. Only the first report for the live link starts a
// reconnect cycle.
func (c *Conn) drop(l *link, cause error) {
	l.shutdown()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != l {
		return
	}
	c.link = nil
	c.failReceiptsLocked(&core.TransportError{Op: "receipt", Err: cause})
	if c.state == StateClosed {
		return
	}
	c.logger.Warn().Err(cause).Dur("retry_in", c.opts.ReconnectDelay).Msg("connection lost")
	c.setStateLocked(StateReconnecting)
	c.wg.Add(1)
	go c.reconnect()
}

func (c *Conn) reconnect() {
	defer c.wg.Done()
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.closed:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*c.opts.ReceiptTimeout)
		l, err := c.establish(ctx)
		cancel()

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			if l != nil {
				l.shutdown()
			}
			return
		}
		if err == nil {
			c.attachLocked(l)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		if attempt%c.opts.FailureThreshold == 0 {
			c.sink.Failed(&core.TransportError{Op: "reconnect", Attempts: attempt, Err: err})
		}
		timer.Reset(c.opts.ReconnectDelay)
	}
}

func (c *Conn) newReceipt() string {
	return "rcpt-" + utils.NewShortID()
}

func brokerError(f *frame.Frame) *core.CoreError {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(f.Body))
	}
	if msg == "" {
		msg = "broker error"
	}
	return &core.CoreError{Code: core.ErrCodeBroker, Message: msg}
}
