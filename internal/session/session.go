// Package session implements the client side of a chat session: the broker
// connection, the room subscription, inbound dispatch, presence and the
// interpretation of user input.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// Options describe the identity and tuning of a session.
type Options struct {
	UserID       string
	Nickname     string
	DefaultRoom  string
	EventBuffer  int
	EventBacklog int
	FetchTimeout time.Duration
	Conn         ConnOptions
}

// OptionsFromConfig builds session options from client configuration. The token is
// sent as the STOMP passcode.
func OptionsFromConfig(cfg config.ClientConfig, userID, nickname, token string) Options {
	return Options{
		UserID:       userID,
		Nickname:     nickname,
		DefaultRoom:  cfg.DefaultRoom,
		FetchTimeout: cfg.ReceiptTimeout,
		Conn: ConnOptions{
			Login:             nickname,
			Passcode:          token,
			HeartbeatOutgoing: cfg.HeartbeatOutgoing,
			HeartbeatIncoming: cfg.HeartbeatIncoming,
			ReconnectDelay:    cfg.ReconnectDelay,
			FailureThreshold:  cfg.FailureThreshold,
			ReceiptTimeout:    cfg.ReceiptTimeout,
		},
	}
}

// DialerFromConfig returns a WebSocket dialer for the configured endpoint.
func DialerFromConfig(cfg config.ClientConfig) WebSocketDialer {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return WebSocketDialer{URL: cfg.Endpoint, Header: header}
}

// Session owns everything a chat client needs between authentication and exit.
// All domain state (router, presence, whisper target, active room) is touched only
// by the goroutine running Run.
type Session struct {
	opts    Options
	logger  *zerolog.Logger
	conn    *Conn
	inbox   *inbox
	events  chan core.Event
	outbox  *outbox
	loader  *presenceLoader
	fetches sync.WaitGroup

	router     *Router
	dispatcher *Dispatcher
	presence   *Presence

	room        string
	lastWhisper string

	lifetime  context.Context
	stop      context.CancelCauseFunc
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a session. fetcher may be nil, in which case presence is built from
// JOIN and LEAVE messages only.
func New(dialer Dialer, fetcher PresenceFetcher, opts Options, logger *zerolog.Logger) *Session {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = core.RoomPublic
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.EventBacklog <= 0 {
		opts.EventBacklog = 16 * opts.EventBuffer
	}
	if opts.Conn.Login == "" {
		opts.Conn.Login = opts.Nickname
	}
	opts.Conn = opts.Conn.withDefaults()

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	sessionLogger := logger.With().Str("nickname", opts.Nickname).Logger()

	lifetime, stop := context.WithCancelCause(context.Background())
	s := &Session{
		opts:     opts,
		logger:   &sessionLogger,
		inbox:    newInbox(),
		events:   make(chan core.Event, opts.EventBuffer),
		outbox:   newOutbox(opts.EventBacklog),
		presence: NewPresence(),
		room:     opts.DefaultRoom,
		lifetime: lifetime,
		stop:     stop,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.conn = NewConn(dialer, opts.Conn, s.inbox, &sessionLogger)
	s.router = NewRouter(s.conn, s.inbox.discard)
	s.dispatcher = NewDispatcher(s.router, &sessionLogger)
	s.dispatcher.Handle(core.MessageChat, s.onChat)
	s.dispatcher.Handle(core.MessageJoin, s.onJoin)
	s.dispatcher.Handle(core.MessageLeave, s.onLeave)
	s.dispatcher.HandleWhisper(s.onWhisper)
	s.dispatcher.HandleBrokerError(func(ce *core.CoreError) {
		s.emit(core.Event{Kind: core.EventNotice, Room: s.room, Error: ce})
	})
	if fetcher != nil {
		s.loader = newPresenceLoader(fetcher, opts.FetchTimeout)
	}
	return s
}

// Events returns the event stream. It is closed when the session shuts down.
func (s *Session) Events() <-chan core.Event {
	return s.events
}

// State returns the connection state.
func (s *Session) State() State {
	return s.conn.State()
}

// Nickname returns the session's user name.
func (s *Session) Nickname() string {
	return s.opts.Nickname
}

// Run processes inbound frames, connection transitions and user commands until
// Close is called or ctx is done.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.isClosing() {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.done)
	go s.outbox.forward(s.events)
	stop := context.AfterFunc(ctx, s.signalClose)
	defer stop()

	for {
		select {
		case <-s.closing:
			s.shutdown()
			return
		case <-s.inbox.notify:
			s.drain()
		}
	}
}

// Connect establishes the broker connection and returns once the room and whisper
// subscriptions, the join announce and the first presence fetch were issued.
func (s *Session) Connect(ctx context.Context) error {
	if s.isClosing() {
		return core.ErrClosed
	}
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	return s.do(ctx, core.Command{Kind: core.CommandSync}).Err
}

// Submit interprets one line of user input.
func (s *Session) Submit(ctx context.Context, text string) error {
	return s.do(ctx, core.Command{Kind: core.CommandSubmit, Text: text}).Err
}

// SwitchRoom moves the session to another room.
func (s *Session) SwitchRoom(ctx context.Context, room string) error {
	return s.do(ctx, core.Command{Kind: core.CommandSwitchRoom, Room: room}).Err
}

// Online returns the presence set of the active room.
func (s *Session) Online(ctx context.Context) ([]string, error) {
	res := s.do(ctx, core.Command{Kind: core.CommandPresence})
	return res.Users, res.Err
}

// Close leaves the room, releases subscriptions, disconnects and stops Run.
// It is idempotent.
func (s *Session) Close() error {
	s.signalClose()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		<-s.done
		return nil
	}
	return s.conn.Close()
}

func (s *Session) signalClose() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.stop(core.ErrClosed)
	})
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Session) do(ctx context.Context, cmd core.Command) core.CommandResult {
	if s.isClosing() {
		return core.CommandResult{Err: core.ErrClosed}
	}
	cmd.Result = make(chan core.CommandResult, 1)
	s.inbox.push(item{kind: itemCommand, cmd: cmd})
	select {
	case res := <-cmd.Result:
		return res
	case <-ctx.Done():
		return core.CommandResult{Err: ctx.Err()}
	case <-s.done:
		select {
		case res := <-cmd.Result:
			return res
		default:
			return core.CommandResult{Err: core.ErrClosed}
		}
	}
}

func (s *Session) drain() {
	for !s.isClosing() {
		it, ok := s.inbox.pop()
		if !ok {
			return
		}
		s.handle(it)
	}
}

func (s *Session) handle(it item) {
	switch it.kind {
	case itemFrame:
		_ = s.dispatcher.Dispatch(it.sub, it.frame)
	case itemState:
		s.emit(core.Event{Kind: core.EventState, Room: s.room, State: it.state.String()})
		switch it.state {
		case StateConnected:
			s.onConnected()
		case StateReconnecting, StateDisconnected:
			s.router.Reset()
		}
	case itemFailure:
		s.notice(it.err)
	case itemPresence:
		s.onPresence(it.room, it.users, it.err)
	case itemCommand:
		it.cmd.Result <- s.execute(it.cmd)
	}
}

func (s *Session) execute(cmd core.Command) core.CommandResult {
	var err error
	switch cmd.Kind {
	case core.CommandSubmit:
		err = s.submit(cmd.Text)
	case core.CommandSwitchRoom:
		err = s.switchRoom(cmd.Room)
	case core.CommandPresence:
		return core.CommandResult{Users: s.presence.Users(s.room)}
	case core.CommandSync:
		return core.CommandResult{}
	default:
		err = fmt.Errorf("%w: unknown command %d", core.ErrBadRequest, cmd.Kind)
	}
	if err != nil && s.isClosing() && errors.Is(err, context.Canceled) {
		err = context.Cause(s.lifetime)
	}
	if err != nil {
		s.notice(err)
	}
	return core.CommandResult{Err: err}
}

// onConnected restores the session after every successful (re)connect. A failed
// whisper-queue subscription does not keep the room from being joined.
func (s *Session) onConnected() {
	ctx := s.lifetime
	s.router.Reset()
	if err := s.router.SubscribeWhispers(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("whisper queue not subscribed")
		s.notice(err)
	}
	if err := s.router.SubscribeRoom(ctx, s.room); err != nil {
		s.notice(err)
		return
	}
	s.announce(s.room, proto.JoinTo(s.room), core.MessageJoin)
	s.scheduleFetch(s.room)
}

func (s *Session) submit(raw string) error {
	in, ok := core.ParseInput(raw)
	if !ok {
		return nil
	}
	switch in.Kind {
	case core.InputWhisper:
		return s.whisper(in.Target, in.Text)
	case core.InputReply:
		if s.lastWhisper == "" {
			return core.ErrNoReplyTarget
		}
		return s.whisper(s.lastWhisper, in.Text)
	default:
		return s.publish(proto.SendTo(s.room), core.Message{
			Type:      core.MessageChat,
			Room:      s.room,
			From:      s.opts.Nickname,
			FromID:    s.opts.UserID,
			Text:      in.Text,
			Anonymous: s.room == core.RoomAnonymous,
			CreatedAt: time.Now().UTC(),
		})
	}
}

// whisper validates the target against the active room's presence before anything
// is published. The reply target moves only after the publish was accepted.
func (s *Session) whisper(target, text string) error {
	if target == s.opts.Nickname {
		return &core.InvalidWhisperTargetError{Target: target, Reason: "you cannot whisper yourself"}
	}
	if !s.presence.IsOnline(s.room, target) {
		return &core.InvalidWhisperTargetError{Target: target}
	}
	err := s.publish(proto.WhisperSend, core.Message{
		Type:      core.MessageWhisper,
		From:      s.opts.Nickname,
		FromID:    s.opts.UserID,
		To:        target,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.lastWhisper = target
	return nil
}

func (s *Session) switchRoom(room string) error {
	room = strings.TrimSpace(room)
	if !core.ValidRoomID(room) {
		return fmt.Errorf("%w: invalid room %q", core.ErrBadRequest, room)
	}
	if room == s.room {
		return nil
	}
	if s.conn.State() != StateConnected {
		return core.ErrNotConnected
	}

	prev := s.room
	s.announce(prev, proto.LeaveTo(prev), core.MessageLeave)
	unsubErr := s.router.UnsubscribeRoom(s.lifetime)
	s.presence.Clear(prev)
	s.room = room
	s.logger.Info().Str("from", prev).Str("room", room).Msg("switched room")
	s.emit(core.Event{Kind: core.EventRoomSwitched, Room: room})
	if unsubErr != nil {
		return unsubErr
	}

	if err := s.router.SubscribeRoom(s.lifetime, room); err != nil {
		return err
	}
	s.announce(room, proto.JoinTo(room), core.MessageJoin)
	s.scheduleFetch(room)
	return nil
}

func (s *Session) announce(room, dest string, t core.MessageType) {
	err := s.publish(dest, core.Message{
		Type:      t,
		Room:      room,
		From:      s.opts.Nickname,
		FromID:    s.opts.UserID,
		Anonymous: room == core.RoomAnonymous,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("room", room).Str("type", string(t)).Msg("announce not sent")
	}
}

func (s *Session) publish(dest string, msg core.Message) error {
	body, err := json.Marshal(msg.Payload())
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.conn.Publish(dest, body)
}

func (s *Session) scheduleFetch(room string) {
	if s.loader == nil {
		return
	}
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		users, err := s.loader.Load(s.lifetime, room)
		s.inbox.push(item{kind: itemPresence, room: room, users: users, err: err})
	}()
}

func (s *Session) onPresence(room string, users []string, err error) {
	if room != s.room {
		s.logger.Debug().Str("room", room).Msg("dropping presence of inactive room")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("room", room).Msg("presence fetch failed")
		return
	}
	s.presence.Reconcile(room, users)
	s.emitPresence()
}

func (s *Session) onChat(msg core.Message) {
	s.emit(core.Event{Kind: core.EventMessage, Room: msg.Room, User: msg.From, Message: msg})
}

func (s *Session) onJoin(msg core.Message) {
	changed := s.presence.ApplyIncremental(s.room, msg)
	s.emit(core.Event{Kind: core.EventUserJoined, Room: s.room, User: msg.From, Message: msg})
	if changed {
		s.emitPresence()
	}
	s.scheduleFetch(s.room)
}

func (s *Session) onLeave(msg core.Message) {
	changed := s.presence.ApplyIncremental(s.room, msg)
	s.emit(core.Event{Kind: core.EventUserLeft, Room: s.room, User: msg.From, Message: msg})
	if changed {
		s.emitPresence()
	}
	s.scheduleFetch(s.room)
}

// onWhisper handles the private queue: whispers sent or received, and system
// notices such as an offline receiver.
func (s *Session) onWhisper(msg core.Message) {
	if msg.Type == core.MessageWhisper {
		s.emit(core.Event{Kind: core.EventWhisper, User: msg.From, Message: msg})
		return
	}
	s.emit(core.Event{
		Kind:    core.EventNotice,
		Room:    s.room,
		User:    msg.From,
		Message: msg,
		Error:   &core.CoreError{Code: core.ErrCodeBroker, Message: msg.Text},
	})
}

func (s *Session) emitPresence() {
	s.emit(core.Event{Kind: core.EventPresence, Room: s.room, Users: s.presence.Users(s.room)})
}

func (s *Session) notice(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, core.ErrClosed) && s.isClosing() {
		return
	}
	s.emit(core.Event{Kind: core.EventNotice, Room: s.room, Error: core.AsCoreError(err)})
}

func (s *Session) emit(ev core.Event) {
	if dropped := s.outbox.push(ev); dropped > 0 && (dropped == 1 || dropped%100 == 0) {
		s.logger.Warn().Int("dropped", dropped).Msg("event backlog full, dropping oldest events")
	}
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Conn.ReceiptTimeout)
	defer cancel()

	if s.conn.State() == StateConnected {
		s.announce(s.room, proto.LeaveTo(s.room), core.MessageLeave)
		if err := s.router.Close(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("release subscriptions")
		}
	}
	_ = s.conn.Close()
	s.lastWhisper = ""
	s.fetches.Wait()

	for {
		it, ok := s.inbox.pop()
		if !ok {
			break
		}
		if it.kind == itemCommand {
			it.cmd.Result <- core.CommandResult{Err: core.ErrClosed}
		}
	}
	s.emit(core.Event{Kind: core.EventState, Room: s.room, State: StateClosed.String()})
	s.outbox.close()
	s.logger.Info().Msg("session closed")
}
