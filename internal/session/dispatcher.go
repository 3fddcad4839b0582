package session

import (
	"encoding/json"
	"fmt"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// Handler consumes one decoded message.
type Handler func(msg core.Message)

// Dispatcher decodes inbound frames and routes them to handlers. It runs on the
// session loop, so handlers see messages of one subscription in arrival order.
type Dispatcher struct {
	router   *Router
	logger   *zerolog.Logger
	handlers map[core.MessageType]Handler
	whisper  Handler
	broker   func(*core.CoreError)
}

func NewDispatcher(router *Router, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		router:   router,
		logger:   logger,
		handlers: make(map[core.MessageType]Handler),
	}
}

// Handle registers h for room messages of type t.
func (d *Dispatcher) Handle(t core.MessageType, h Handler) {
	d.handlers[t] = h
}

// HandleWhisper registers h for everything arriving on the whisper queue.
func (d *Dispatcher) HandleWhisper(h Handler) {
	d.whisper = h
}

// HandleBrokerError registers h for ERROR frames.
func (d *Dispatcher) HandleBrokerError(h func(*core.CoreError)) {
	d.broker = h
}

// Dispatch processes one frame. Frames of released subscriptions are dropped.
// Undecodable frames are logged and dropped; the *core.DecodeError is returned
// for callers that count them.
func (d *Dispatcher) Dispatch(sub string, f *frame.Frame) error {
	switch f.Command {
	case frame.MESSAGE:
	case frame.ERROR:
		ce := brokerError(f)
		d.logger.Warn().Str("code", ce.Code).Msg(ce.Message)
		if d.broker != nil {
			d.broker(ce)
		}
		return nil
	default:
		d.logger.Debug().Str("command", f.Command).Msg("ignoring frame")
		return nil
	}

	if !d.router.Active(sub) {
		d.logger.Debug().Str("sub_id", sub).Msg("dropping frame for released subscription")
		return nil
	}

	dest := f.Header.Get(frame.Destination)
	if sub == d.router.WhisperSub() {
		msg, err := decodeMessage(dest, f.Body, "")
		if err != nil {
			d.logger.Warn().Err(err).Str("sub_id", sub).Msg("dropping frame")
			return err
		}
		if d.whisper != nil {
			d.whisper(msg)
		}
		return nil
	}

	msg, err := decodeMessage(dest, f.Body, d.router.Room())
	if err != nil {
		d.logger.Warn().Err(err).Str("sub_id", sub).Msg("dropping frame")
		return err
	}
	if h := d.handlers[msg.Type]; h != nil {
		h(msg)
	}
	return nil
}

func decodeMessage(dest string, body []byte, room string) (core.Message, error) {
	var payload proto.ChatMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.Message{}, &core.DecodeError{Destination: dest, Err: err}
	}
	if !core.MessageType(payload.Type).Valid() {
		return core.Message{}, &core.DecodeError{Destination: dest, Err: fmt.Errorf("unknown message type %q", payload.Type)}
	}
	if payload.RoomID == "" {
		payload.RoomID = room
	}
	return core.MessageFromPayload(payload), nil
}
