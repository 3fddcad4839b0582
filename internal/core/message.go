package core

import (
	"time"

	"github.com/terminalnexus/tnchat/internal/proto"
)

// MessageType is the kind of a chat message.
type MessageType string

const (
	MessageChat    MessageType = proto.TypeChat
	MessageJoin    MessageType = proto.TypeJoin
	MessageLeave   MessageType = proto.TypeLeave
	MessageWhisper MessageType = proto.TypeWhisper
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageChat, MessageJoin, MessageLeave, MessageWhisper:
		return true
	}
	return false
}

// Message is the domain model for a chat message. Values are never mutated after creation.
type Message struct {
	Type      MessageType
	Room      string
	From      string
	FromID    string
	To        string // whisper receiver only
	Text      string
	Anonymous bool
	CreatedAt time.Time
}

// MessageFromPayload converts a decoded wire payload into a domain message.
func MessageFromPayload(p proto.ChatMessage) Message {
	msg := Message{
		Type:      MessageType(p.Type),
		Room:      p.RoomID,
		From:      p.Sender,
		FromID:    p.SenderID,
		To:        p.Receiver,
		Text:      p.Content,
		Anonymous: p.IsAnonymous,
	}
	if p.Timestamp != nil {
		msg.CreatedAt = *p.Timestamp
	}
	return msg
}

// Payload converts the message into its wire form.
func (m Message) Payload() proto.ChatMessage {
	p := proto.ChatMessage{
		Type:        string(m.Type),
		RoomType:    RoomTypeOf(m.Room),
		RoomID:      m.Room,
		Content:     m.Text,
		Sender:      m.From,
		SenderID:    m.FromID,
		Receiver:    m.To,
		IsAnonymous: m.Anonymous,
	}
	if m.Type == MessageWhisper {
		p.RoomType = ""
	}
	if !m.CreatedAt.IsZero() {
		ts := m.CreatedAt
		p.Timestamp = &ts
	}
	return p
}
