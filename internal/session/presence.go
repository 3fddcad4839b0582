package session

import (
	"maps"
	"slices"

	"github.com/terminalnexus/tnchat/internal/core"
)

// Presence tracks who is online per room. JOIN and LEAVE are hints; a fetched
// list is authoritative and replaces whatever the hints produced.
type Presence struct {
	rooms map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[string]struct{})}
}

// ApplyIncremental applies a JOIN or LEAVE message. Applying the same message twice
// leaves the set unchanged. It reports whether the set changed.
func (p *Presence) ApplyIncremental(room string, msg core.Message) bool {
	if msg.From == "" {
		return false
	}
	switch msg.Type {
	case core.MessageJoin:
		set := p.set(room)
		if _, ok := set[msg.From]; ok {
			return false
		}
		set[msg.From] = struct{}{}
		return true
	case core.MessageLeave:
		set := p.rooms[room]
		if _, ok := set[msg.From]; !ok {
			return false
		}
		delete(set, msg.From)
		return true
	}
	return false
}

// Reconcile makes the room's set exactly equal to users.
func (p *Presence) Reconcile(room string, users []string) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u != "" {
			set[u] = struct{}{}
		}
	}
	p.rooms[room] = set
}

// IsOnline reports whether nick is in the room's set.
func (p *Presence) IsOnline(room, nick string) bool {
	_, ok := p.rooms[room][nick]
	return ok
}

// Users returns the room's set sorted by nickname.
func (p *Presence) Users(room string) []string {
	return slices.Sorted(maps.Keys(p.rooms[room]))
}

// Clear forgets a room.
func (p *Presence) Clear(room string) {
	delete(p.rooms, room)
}

func (p *Presence) set(room string) map[string]struct{} {
	set, ok := p.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		p.rooms[room] = set
	}
	return set
}
