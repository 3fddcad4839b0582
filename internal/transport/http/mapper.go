package http

import (
	"encoding/json"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
	"github.com/terminalnexus/tnchat/internal/utils"
)

// sendToCommand maps a SEND frame onto a hub command.
func sendToCommand(client *broker.Client, f *frame.Frame) (*broker.Command, *core.CoreError) {
	dest := f.Header.Get(frame.Destination)
	if dest == "" {
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "destination header is required"}
	}

	var payload proto.ChatMessage
	if len(f.Body) > 0 {
		if err := json.Unmarshal(f.Body, &payload); err != nil {
			return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "invalid message payload"}
		}
	}

	if dest == proto.WhisperSend {
		if payload.Receiver == "" {
			return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "receiver is required"}
		}
		return &broker.Command{
			Kind:    broker.CommandWhisper,
			Client:  client,
			Message: core.Message{Type: core.MessageWhisper, To: payload.Receiver, Text: payload.Content},
		}, nil
	}

	kind, room, ok := appDestination(dest)
	if !ok {
		return nil, &core.CoreError{Code: core.ErrCodeUnknownDestination, Message: "unknown destination " + dest}
	}
	if !core.ValidRoomID(room) {
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "invalid room " + room}
	}
	cmd := &broker.Command{Kind: kind, Client: client, Room: room}
	if kind == broker.CommandSendMessage {
		if strings.TrimSpace(payload.Content) == "" {
			return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "content is required"}
		}
		cmd.Message = core.Message{Type: core.MessageChat, Room: room, Text: payload.Content}
	}
	return cmd, nil
}

func appDestination(dest string) (broker.CommandKind, string, bool) {
	if room, ok := strings.CutPrefix(dest, proto.SendMessagePrefix); ok {
		return broker.CommandSendMessage, room, true
	}
	if room, ok := strings.CutPrefix(dest, proto.AddUserPrefix); ok {
		return broker.CommandAddUser, room, true
	}
	if room, ok := strings.CutPrefix(dest, proto.RemoveUserPrefix); ok {
		return broker.CommandRemoveUser, room, true
	}
	return 0, "", false
}

// subscribable reports whether a session may subscribe to dest and returns the
// room for topic destinations.
func subscribable(dest string) (room string, ok bool) {
	if dest == proto.WhisperQueue {
		return "", true
	}
	room, ok = proto.RoomFromTopic(dest)
	if !ok || !core.ValidRoomID(room) {
		return "", false
	}
	return room, true
}

func messageFrame(subID string, d broker.Delivery) (*frame.Frame, error) {
	body, err := json.Marshal(d.Message.Payload())
	if err != nil {
		return nil, err
	}
	f := frame.New(frame.MESSAGE,
		frame.Destination, d.Destination,
		frame.Subscription, subID,
		frame.MessageId, utils.NewID(),
		frame.ContentType, proto.ContentTypeJSON)
	f.Body = body
	return f, nil
}

func receiptFrame(id string) *frame.Frame {
	return frame.New(frame.RECEIPT, frame.ReceiptId, id)
}

func errorFrame(ce *core.CoreError, receipt string) *frame.Frame {
	f := frame.New(frame.ERROR,
		frame.Message, ce.Message,
		frame.ContentType, "text/plain")
	if receipt != "" {
		f.Header.Set(frame.ReceiptId, receipt)
	}
	f.Body = []byte(ce.Code)
	return f
}
