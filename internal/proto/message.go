package proto

import (
	"strings"
	"time"
)

// Destination prefixes used by the broker.
const (
	AppPrefix   = "/app"
	TopicPrefix = "/topic/"
	UserPrefix  = "/user"

	SendMessagePrefix = "/app/chat.sendMessage/"
	AddUserPrefix     = "/app/chat.addUser/"
	RemoveUserPrefix  = "/app/chat.removeUser/"
	WhisperSend       = "/app/chat.whisper"

	// WhisperQueue is the per-session private destination. The broker resolves it
	// to the authenticated user of the subscribing session.
	WhisperQueue = "/user/queue/whisper"

	ContentTypeJSON = "application/json"
	ProtocolVersion = "1.2"
	Subprotocol     = "v12.stomp"
)

// Message types carried in the payload "type" field.
const (
	TypeChat    = "CHAT"
	TypeJoin    = "JOIN"
	TypeLeave   = "LEAVE"
	TypeWhisper = "WHISPER"
)

// Room types carried in the payload "roomType" field.
const (
	RoomTypePublic    = "PUBLIC"
	RoomTypePrivate   = "PRIVATE"
	RoomTypeAnonymous = "ANONYMOUS"
)

// ChatMessage is the JSON body of every SEND and MESSAGE frame.
type ChatMessage struct {
	Type        string     `json:"type"`
	RoomType    string     `json:"roomType,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	Content     string     `json:"content,omitempty"`
	Sender      string     `json:"sender"`
	SenderID    string     `json:"senderId,omitempty"`
	Receiver    string     `json:"receiver,omitempty"`
	ReceiverID  string     `json:"receiverId,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	IsAnonymous bool       `json:"isAnonymous,omitempty"`
}

// RoomInfo is returned by the room listing endpoint.
type RoomInfo struct {
	RoomID       string   `json:"roomId"`
	RoomName     string   `json:"roomName"`
	RoomType     string   `json:"roomType"`
	Participants []string `json:"participants"`
	UserCount    int      `json:"userCount"`
}

// TopicFor returns the broadcast destination of a room.
func TopicFor(room string) string { return TopicPrefix + room }

// SendTo returns the publish destination for chat messages in a room.
func SendTo(room string) string { return SendMessagePrefix + room }

// JoinTo returns the join-announce destination of a room.
func JoinTo(room string) string { return AddUserPrefix + room }

// LeaveTo returns the leave-announce destination of a room.
func LeaveTo(room string) string { return RemoveUserPrefix + room }

// RoomFromTopic extracts the room id from a topic destination.
func RoomFromTopic(dest string) (string, bool) {
	room, ok := strings.CutPrefix(dest, TopicPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}
