package core

import (
	"strings"

	"github.com/terminalnexus/tnchat/internal/proto"
)

// Well-known rooms.
const (
	RoomPublic    = "public"
	RoomAnonymous = "anonymous"

	// AnonymousName replaces the sender nickname in the anonymous room.
	AnonymousName = "anonymous"
	// SystemName is the sender of broker-generated notices.
	SystemName = "system"

	directPrefix = "private_"
)

// DirectRoomID returns the room id shared by two users. The id does not depend on argument order.
func DirectRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directPrefix + a + "_" + b
}

// IsDirectRoom reports whether room is a one-to-one room.
func IsDirectRoom(room string) bool {
	return strings.HasPrefix(room, directPrefix)
}

// RoomTypeOf classifies a room id.
func RoomTypeOf(room string) string {
	switch {
	case room == "":
		return ""
	case room == RoomAnonymous:
		return proto.RoomTypeAnonymous
	case IsDirectRoom(room):
		return proto.RoomTypePrivate
	default:
		return proto.RoomTypePublic
	}
}

// ValidRoomID reports whether room can be used as a destination segment.
func ValidRoomID(room string) bool {
	if room == "" || len(room) > 64 {
		return false
	}
	return !strings.ContainsAny(room, "/ \t\r\n")
}
