package core

// EventKind is a notification the session emits to its front-end.
type EventKind int

const (
	// EventMessage notifies about a chat message in the active room.
	EventMessage EventKind = iota
	// EventUserJoined notifies about a user joining the active room.
	EventUserJoined
	// EventUserLeft notifies about a user leaving the active room.
	EventUserLeft
	// EventWhisper delivers a private message, sent or received.
	EventWhisper
	// EventPresence delivers the active room's presence set after it changed.
	EventPresence
	// EventState reports a connection state transition.
	EventState
	// EventRoomSwitched reports that the active room changed and the view must be cleared.
	EventRoomSwitched
	// EventNotice is inline feedback: validation failures, broker errors, repeated transport failures.
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	case EventWhisper:
		return "whisper"
	case EventPresence:
		return "presence"
	case EventState:
		return "state"
	case EventRoomSwitched:
		return "room_switched"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is sent to the front-end to describe what happened in the session.
type Event struct {
	Kind    EventKind
	Room    string
	User    string
	Message Message
	Users   []string // For EventPresence
	State   string   // For EventState
	Error   *CoreError
}
