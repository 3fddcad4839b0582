package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/stompws"
	"github.com/terminalnexus/tnchat/internal/utils"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
	serverName     = "tnchat/1.0"
)

// supportedVersions is ordered by preference.
var supportedVersions = []string{"1.2", "1.1", "1.0"}

var errSessionEnd = errors.New("stomp session ended")

// WSHandler serves STOMP sessions over WebSocket.
type WSHandler struct {
	hub  *broker.Hub
	auth *auth.Service
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewWSHandler creates a STOMP endpoint. authService may be nil, in which case
// the login header names the session.
func NewWSHandler(hub *broker.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:  hub,
		auth: authService,
		cfg:  cfg,
		log:  logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := stompws.Accept(w, r)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	bearer, _ := bearerToken(r.Header.Get("Authorization"))

	ctx := r.Context()
	s, err := h.handshake(ctx, conn, bearer)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("stomp handshake failed")
		_ = conn.CloseWith(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	s.serve(ctx)
}

// handshake waits for CONNECT, negotiates version and heart-beats, authenticates
// the session and answers CONNECTED. Failures are reported with an ERROR frame.
func (h *WSHandler) handshake(ctx context.Context, conn *stompws.Conn, bearer string) (*stompSession, error) {
	hctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var hello *frame.Frame
	for hello == nil {
		f, err := conn.ReadFrame(hctx)
		if err != nil {
			if errors.Is(err, stompws.ErrMalformedFrame) {
				return nil, reject(hctx, conn, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "malformed frame"}, nil)
			}
			return nil, err
		}
		hello = f
	}
	if hello.Command != frame.CONNECT && hello.Command != frame.STOMP {
		return nil, reject(hctx, conn, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "expected CONNECT frame"}, nil)
	}

	version, ok := negotiateVersion(hello.Header.Get(frame.AcceptVersion))
	if !ok {
		return nil, reject(hctx, conn,
			&core.CoreError{Code: core.ErrCodeBadRequest, Message: "supported protocol versions are " + strings.Join(supportedVersions, " ")},
			[]string{frame.Version, strings.Join(supportedVersions, ",")})
	}

	peerSend, peerRecv, err := stompws.ParseHeartBeat(hello.Header.Get(frame.HeartBeat))
	if err != nil {
		return nil, reject(hctx, conn, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "invalid heart-beat header"}, nil)
	}

	name, userID, err := h.authenticate(hello, bearer)
	if err != nil {
		h.log.Debug().Err(err).Msg("stomp authentication failed")
		return nil, reject(hctx, conn, &core.CoreError{Code: core.ErrCodeUnauthorized, Message: "unauthorized"}, nil)
	}

	offer := h.cfg.Heartbeat
	send, recv := stompws.Negotiate(offer, offer, peerSend, peerRecv)
	client := broker.NewClient(utils.NewID(), name, userID)

	connected := frame.New(frame.CONNECTED,
		frame.Version, version,
		frame.HeartBeat, stompws.FormatHeartBeat(offer, offer),
		frame.Server, serverName,
		frame.Session, client.ID,
		"user-name", name)
	if err := conn.WriteFrame(hctx, connected); err != nil {
		return nil, fmt.Errorf("write CONNECTED: %w", err)
	}

	sessionLogger := h.log.With().Str("client_id", client.ID).Str("user", name).Logger()
	sessionLogger.Info().Str("version", version).Dur("send_hb", send).Dur("recv_hb", recv).Msg("stomp session connected")
	return &stompSession{
		conn:    conn,
		hub:     h.hub,
		client:  client,
		log:     &sessionLogger,
		send:    send,
		recv:    recv,
		limiter: newRateLimiter(h.cfg.RateLimitPerMin),
		control: make(chan control, 16),
		subs:    make(map[string]string),
	}, nil
}

// authenticate resolves the nickname of a session. A token, from the passcode
// header or the upgrade request, always wins and must be valid. Without one the
// login header is used, unless tokens are required.
func (h *WSHandler) authenticate(hello *frame.Frame, bearer string) (name, userID string, err error) {
	token := hello.Header.Get(frame.Passcode)
	if token == "" {
		token = bearer
	}
	if token != "" && h.auth != nil {
		claims, err := h.auth.Authenticate(token)
		if err != nil {
			return "", "", err
		}
		return claims.Username, claims.Subject, nil
	}
	if h.cfg.JWTRequired {
		return "", "", errors.New("token required")
	}

	login := strings.TrimSpace(hello.Header.Get(frame.Login))
	if login == "" {
		return "guest_" + utils.NewShortID(), "", nil
	}
	if !auth.ValidUsername(login) {
		return "", "", fmt.Errorf("%w: %q", auth.ErrInvalidUsername, login)
	}
	return login, "", nil
}

func negotiateVersion(accept string) (string, bool) {
	if strings.TrimSpace(accept) == "" {
		return "1.0", true
	}
	offered := strings.Split(accept, ",")
	for i := range offered {
		offered[i] = strings.TrimSpace(offered[i])
	}
	for _, v := range supportedVersions {
		if slices.Contains(offered, v) {
			return v, true
		}
	}
	return "", false
}

func reject(ctx context.Context, conn *stompws.Conn, ce *core.CoreError, headers []string) error {
	f := errorFrame(ce, "")
	for i := 0; i+1 < len(headers); i += 2 {
		f.Header.Set(headers[i], headers[i+1])
	}
	if err := conn.WriteFrame(ctx, f); err != nil {
		return fmt.Errorf("%s: %w", ce.Message, err)
	}
	return ce
}

// control is a frame produced by the read side for the writer. A final frame
// ends the session once written.
type control struct {
	frame *frame.Frame
	final bool
}

// stompSession is one connected STOMP client. The read loop owns the
// subscription table; the write loop is the only writer to the socket.
type stompSession struct {
	conn    *stompws.Conn
	hub     *broker.Hub
	client  *broker.Client
	log     *zerolog.Logger
	send    time.Duration
	recv    time.Duration
	limiter *rateLimiter
	control chan control

	mu   sync.Mutex
	subs map[string]string // subscription id -> destination
}

func (s *stompSession) serve(ctx context.Context) {
	s.hub.RegisterClient(s.client)
	defer s.hub.UnregisterClient(s.client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.readLoop(ctx) }()
	go func() { errCh <- s.writeLoop(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "bye"
	if !errors.Is(err, errSessionEnd) && !stompws.IsNormalClose(err) {
		status = websocket.StatusInternalError
		reason = "session error"
		s.log.Warn().Err(err).Msg("stomp session ended with error")
	} else {
		s.log.Info().Msg("stomp session closed")
	}
	_ = s.conn.CloseWith(status, reason)
}

func (s *stompSession) readLoop(ctx context.Context) error {
	timeout := stompws.ReadTimeout(s.recv)
	for {
		rctx, rcancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			rctx, rcancel = context.WithTimeout(ctx, timeout)
		}
		f, err := s.conn.ReadFrame(rctx)
		rcancel()
		if err != nil {
			if errors.Is(err, stompws.ErrMalformedFrame) {
				return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "malformed frame"}, "")
			}
			return err
		}
		if f == nil {
			continue
		}
		if err := s.handleFrame(ctx, f); err != nil {
			return err
		}
	}
}

func (s *stompSession) handleFrame(ctx context.Context, f *frame.Frame) error {
	receipt := f.Header.Get(frame.Receipt)
	switch f.Command {
	case frame.SUBSCRIBE:
		return s.subscribe(ctx, f, receipt)
	case frame.UNSUBSCRIBE:
		return s.unsubscribe(ctx, f, receipt)
	case frame.SEND:
		return s.publish(ctx, f, receipt)
	case frame.ACK, frame.NACK:
		// auto acknowledgement only
		return s.ack(ctx, receipt)
	case frame.DISCONNECT:
		s.log.Debug().Msg("client disconnect")
		if receipt == "" {
			return errSessionEnd
		}
		s.enqueue(ctx, control{frame: receiptFrame(receipt), final: true})
		<-ctx.Done()
		return errSessionEnd
	case frame.CONNECT, frame.STOMP:
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "already connected"}, receipt)
	default:
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "unsupported command " + f.Command}, receipt)
	}
}

func (s *stompSession) subscribe(ctx context.Context, f *frame.Frame, receipt string) error {
	dest := f.Header.Get(frame.Destination)
	id := f.Header.Get(frame.Id)
	if id == "" {
		id = dest
	}
	if dest == "" {
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "destination header is required"}, receipt)
	}
	room, ok := subscribable(dest)
	if !ok {
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeUnknownDestination, Message: "cannot subscribe to " + dest}, receipt)
	}

	s.mu.Lock()
	_, exists := s.subs[id]
	if !exists {
		s.subs[id] = dest
	}
	s.mu.Unlock()
	if exists {
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "duplicate subscription id " + id}, receipt)
	}

	if room != "" {
		if err := s.hub.Submit(ctx, &broker.Command{Kind: broker.CommandSubscribe, Client: s.client, Room: room}); err != nil {
			return err
		}
	}
	s.log.Debug().Str("sub_id", id).Str("destination", dest).Msg("subscribed")
	return s.ack(ctx, receipt)
}

func (s *stompSession) unsubscribe(ctx context.Context, f *frame.Frame, receipt string) error {
	id := f.Header.Get(frame.Id)
	if id == "" {
		return s.fail(ctx, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "id header is required"}, receipt)
	}

	s.mu.Lock()
	dest, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		if room, isTopic := subscribable(dest); isTopic && room != "" {
			if err := s.hub.Submit(ctx, &broker.Command{Kind: broker.CommandUnsubscribe, Client: s.client, Room: room}); err != nil {
				return err
			}
		}
		s.log.Debug().Str("sub_id", id).Str("destination", dest).Msg("unsubscribed")
	}
	return s.ack(ctx, receipt)
}

// publish maps SEND onto the hub. Payload problems and rate limiting are
// reported with an ERROR frame but keep the session open.
func (s *stompSession) publish(ctx context.Context, f *frame.Frame, receipt string) error {
	if !s.limiter.allow() {
		s.log.Warn().Msg("rate limited")
		s.enqueue(ctx, control{frame: errorFrame(&core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"}, receipt)})
		return nil
	}
	cmd, ce := sendToCommand(s.client, f)
	if ce != nil {
		s.log.Debug().Str("code", ce.Code).Str("destination", f.Header.Get(frame.Destination)).Msg("rejected SEND")
		s.enqueue(ctx, control{frame: errorFrame(ce, receipt)})
		return nil
	}
	if err := s.hub.Submit(ctx, cmd); err != nil {
		return err
	}
	return s.ack(ctx, receipt)
}

func (s *stompSession) ack(ctx context.Context, receipt string) error {
	if receipt != "" {
		s.enqueue(ctx, control{frame: receiptFrame(receipt)})
	}
	return nil
}

// fail reports a protocol violation and ends the session after the ERROR frame
// has been written.
func (s *stompSession) fail(ctx context.Context, ce *core.CoreError, receipt string) error {
	s.log.Debug().Str("code", ce.Code).Msg(ce.Message)
	s.enqueue(ctx, control{frame: errorFrame(ce, receipt), final: true})
	<-ctx.Done()
	return errSessionEnd
}

func (s *stompSession) enqueue(ctx context.Context, c control) {
	select {
	case s.control <- c:
	case <-ctx.Done():
	}
}

func (s *stompSession) writeLoop(ctx context.Context) error {
	var beat <-chan time.Time
	if s.send > 0 {
		ticker := time.NewTicker(s.send)
		defer ticker.Stop()
		beat = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-s.control:
			if err := s.write(ctx, c.frame); err != nil {
				return err
			}
			if c.final {
				return errSessionEnd
			}
		case d := <-s.client.Outbox:
			for _, id := range s.subscriptionsFor(d.Destination) {
				f, err := messageFrame(id, d)
				if err != nil {
					s.log.Error().Err(err).Msg("failed to encode message")
					break
				}
				if err := s.write(ctx, f); err != nil {
					return err
				}
			}
		case <-beat:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.WriteHeartbeat(wctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *stompSession) write(ctx context.Context, f *frame.Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.WriteFrame(wctx, f)
}

// subscriptionsFor returns the subscription ids bound to dest, in stable order.
func (s *stompSession) subscriptionsFor(dest string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, d := range s.subs {
		if d == dest {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
