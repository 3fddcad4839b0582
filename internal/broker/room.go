package broker

import (
	"slices"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
)

// Room tracks the sessions that announced themselves in a room.
type Room struct {
	ID        string
	Name      string
	Permanent bool
	members   map[*Client]struct{}
}

// NewRoom constructs an empty room.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		Name:    displayName(id),
		members: make(map[*Client]struct{}),
	}
}

func displayName(id string) string {
	switch id {
	case core.RoomPublic:
		return "Public chat"
	case core.RoomAnonymous:
		return "Anonymous chat"
	default:
		return id
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.members[c]; exists {
		return false
	}
	r.members[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.members[c]; !exists {
		return false
	}
	delete(r.members, c)
	return true
}

// Has reports whether any session of name is in the room.
func (r *Room) Has(name string) bool {
	for c := range r.members {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Names returns the sorted nicknames present in the room. A user with several
// sessions is listed once.
func (r *Room) Names() []string {
	names := make([]string, 0, len(r.members))
	for c := range r.members {
		names = append(names, c.Name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// Info describes the room for the listing endpoint.
func (r *Room) Info() proto.RoomInfo {
	names := r.Names()
	return proto.RoomInfo{
		RoomID:       r.ID,
		RoomName:     r.Name,
		RoomType:     core.RoomTypeOf(r.ID),
		Participants: names,
		UserCount:    len(names),
	}
}
