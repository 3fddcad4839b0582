package broker

import (
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// CommandKind describes an operation executed by the hub loop.
type CommandKind int

const (
	CommandRegister CommandKind = iota
	CommandUnregister
	CommandSubscribe
	CommandUnsubscribe
	CommandSendMessage
	CommandAddUser
	CommandRemoveUser
	CommandWhisper
	CommandOnlineUsers
	CommandRooms
)

func (k CommandKind) String() string {
	switch k {
	case CommandRegister:
		return "register"
	case CommandUnregister:
		return "unregister"
	case CommandSubscribe:
		return "subscribe"
	case CommandUnsubscribe:
		return "unsubscribe"
	case CommandSendMessage:
		return "send_message"
	case CommandAddUser:
		return "add_user"
	case CommandRemoveUser:
		return "remove_user"
	case CommandWhisper:
		return "whisper"
	case CommandOnlineUsers:
		return "online_users"
	case CommandRooms:
		return "rooms"
	default:
		return "unknown"
	}
}

// Command is a request for the hub. Client is nil for queries.
type Command struct {
	Kind    CommandKind
	Client  *Client
	Room    string
	Message core.Message
	Reply   chan Reply
}

// Reply carries the result of a query command.
type Reply struct {
	Users []string
	Rooms []proto.RoomInfo
}
