// Package broker implements the chat broker: rooms, topic fan-out, presence
// announcements and private whispers. All state lives in the hub goroutine.
package broker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
	"github.com/terminalnexus/tnchat/internal/store"
)

const saveTimeout = 2 * time.Second

// Hub coordinates clients and rooms.
type Hub struct {
	commands chan *Command
	done     chan struct{}
	clients  map[*Client]struct{}
	rooms    map[string]*Room
	topics   map[string]map[*Client]struct{}
	messages store.MessageStore
	log      *zerolog.Logger
	now      func() time.Time
}

// NewHub creates a hub. messages may be nil, in which case chat history is not kept.
func NewHub(messages store.MessageStore, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		commands: make(chan *Command, 256),
		done:     make(chan struct{}),
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]*Room),
		topics:   make(map[string]map[*Client]struct{}),
		messages: messages,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, id := range []string{core.RoomPublic, core.RoomAnonymous} {
		room := NewRoom(id)
		room.Permanent = true
		h.rooms[id] = room
	}
	return h
}

// Run processes commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handle(ctx, cmd)
		}
	}
}

// Submit queues a command for the hub loop.
func (h *Hub) Submit(ctx context.Context, cmd *Command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return core.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient adds a client to the hub.
func (h *Hub) RegisterClient(c *Client) {
	_ = h.Submit(context.Background(), &Command{Kind: CommandRegister, Client: c})
}

// UnregisterClient removes a client, announcing its departure from its room.
func (h *Hub) UnregisterClient(c *Client) {
	_ = h.Submit(context.Background(), &Command{Kind: CommandUnregister, Client: c})
}

// OnlineUsers lists nicknames present in room, or in any room when room is empty.
func (h *Hub) OnlineUsers(ctx context.Context, room string) ([]string, error) {
	reply, err := h.query(ctx, &Command{Kind: CommandOnlineUsers, Room: room})
	if err != nil {
		return nil, err
	}
	return reply.Users, nil
}

// Rooms lists known rooms with their participants.
func (h *Hub) Rooms(ctx context.Context) ([]proto.RoomInfo, error) {
	reply, err := h.query(ctx, &Command{Kind: CommandRooms})
	if err != nil {
		return nil, err
	}
	return reply.Rooms, nil
}

func (h *Hub) query(ctx context.Context, cmd *Command) (Reply, error) {
	cmd.Reply = make(chan Reply, 1)
	if err := h.Submit(ctx, cmd); err != nil {
		return Reply{}, err
	}
	select {
	case reply := <-cmd.Reply:
		return reply, nil
	case <-h.done:
		return Reply{}, core.ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (h *Hub) handle(ctx context.Context, cmd *Command) {
	switch cmd.Kind {
	case CommandRegister:
		h.clients[cmd.Client] = struct{}{}
		h.log.Debug().Str("client_id", cmd.Client.ID).Str("user", cmd.Client.Name).Msg("client registered")
	case CommandUnregister:
		h.unregister(cmd.Client)
	case CommandSubscribe:
		h.subscribe(cmd.Client, cmd.Room)
	case CommandUnsubscribe:
		h.unsubscribe(cmd.Client, cmd.Room)
	case CommandSendMessage:
		h.sendMessage(ctx, cmd.Client, cmd.Room, cmd.Message)
	case CommandAddUser:
		h.addUser(cmd.Client, cmd.Room)
	case CommandRemoveUser:
		h.removeUser(cmd.Client, cmd.Room)
	case CommandWhisper:
		h.whisper(cmd.Client, cmd.Message)
	case CommandOnlineUsers:
		cmd.Reply <- Reply{Users: h.onlineUsers(cmd.Room)}
	case CommandRooms:
		cmd.Reply <- Reply{Rooms: h.roomInfos()}
	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Msg("unknown hub command")
	}
}

func (h *Hub) registered(c *Client) bool {
	if c == nil {
		return false
	}
	_, ok := h.clients[c]
	return ok
}

func (h *Hub) unregister(c *Client) {
	if !h.registered(c) {
		return
	}
	if c.room != "" {
		h.leave(c, c.room)
	}
	for room := range c.topics {
		h.dropTopic(c, room)
	}
	clear(c.topics)
	delete(h.clients, c)
	h.log.Debug().Str("client_id", c.ID).Str("user", c.Name).Msg("client unregistered")
}

// subscribe counts subscriptions so that one session may hold several ids for
// the same topic.
func (h *Hub) subscribe(c *Client, room string) {
	if !h.registered(c) {
		return
	}
	c.topics[room]++
	subs, ok := h.topics[room]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[room] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, room string) {
	if !h.registered(c) || c.topics[room] == 0 {
		return
	}
	c.topics[room]--
	if c.topics[room] > 0 {
		return
	}
	delete(c.topics, room)
	h.dropTopic(c, room)
}

func (h *Hub) dropTopic(c *Client, room string) {
	subs := h.topics[room]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, room)
	}
}

// sendMessage stamps a chat message and broadcasts it to the room topic. In the
// anonymous room the sender identity is removed before anything leaves the hub.
func (h *Hub) sendMessage(ctx context.Context, c *Client, room string, msg core.Message) {
	if !h.registered(c) {
		return
	}
	out := core.Message{
		Type:      core.MessageChat,
		Room:      room,
		From:      c.Name,
		FromID:    c.UserID,
		Text:      msg.Text,
		CreatedAt: h.now(),
	}
	if room == core.RoomAnonymous {
		out.From = core.AnonymousName
		out.FromID = ""
		out.Anonymous = true
	}
	h.save(ctx, out)
	h.broadcast(room, out)
	h.log.Info().Str("room", room).Str("user", out.From).Msg("chat message")
}

func (h *Hub) save(ctx context.Context, msg core.Message) {
	if h.messages == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	err := h.messages.SaveMessage(ctx, &store.Message{
		Room:      msg.Room,
		Type:      string(msg.Type),
		Sender:    msg.From,
		SenderID:  msg.FromID,
		Body:      msg.Text,
		Anonymous: msg.Anonymous,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		h.log.Error().Err(err).Str("room", msg.Room).Msg("failed to save message")
	}
}

// addUser makes room the client's current room. A client is in at most one room;
// joining another one announces the departure first.
func (h *Hub) addUser(c *Client, room string) {
	if !h.registered(c) {
		return
	}
	if c.room != "" && c.room != room {
		h.leave(c, c.room)
	}
	r, ok := h.rooms[room]
	if !ok {
		r = NewRoom(room)
		h.rooms[room] = r
		h.log.Info().Str("room", room).Msg("room created")
	}
	r.AddClient(c)
	c.room = room
	h.broadcast(room, core.Message{
		Type:      core.MessageJoin,
		Room:      room,
		From:      c.Name,
		FromID:    c.UserID,
		CreatedAt: h.now(),
	})
	h.log.Info().Str("room", room).Str("user", c.Name).Int("members", len(r.members)).Msg("user joined")
}

func (h *Hub) removeUser(c *Client, room string) {
	if !h.registered(c) || c.room != room {
		return
	}
	h.leave(c, room)
}

// leave removes the client from room. LEAVE is broadcast only when the nickname
// has no other session left in the room.
func (h *Hub) leave(c *Client, room string) {
	c.room = ""
	r, ok := h.rooms[room]
	if !ok || !r.RemoveClient(c) {
		return
	}
	if r.Empty() && !r.Permanent {
		delete(h.rooms, room)
		h.log.Info().Str("room", room).Msg("room removed")
	}
	if r.Has(c.Name) {
		return
	}
	h.broadcast(room, core.Message{
		Type:      core.MessageLeave,
		Room:      room,
		From:      c.Name,
		FromID:    c.UserID,
		CreatedAt: h.now(),
	})
	h.log.Info().Str("room", room).Str("user", c.Name).Msg("user left")
}

// whisper delivers a private message to every session of the receiver and echoes
// it to the sender. An offline receiver yields a system notice to the sender only.
func (h *Hub) whisper(c *Client, msg core.Message) {
	if !h.registered(c) {
		return
	}
	receivers := h.sessionsOf(msg.To)
	if len(receivers) == 0 {
		c.deliver(Delivery{Destination: proto.WhisperQueue, Message: core.Message{
			Type:      core.MessageChat,
			From:      core.SystemName,
			Text:      fmt.Sprintf("%s is offline", msg.To),
			CreatedAt: h.now(),
		}})
		h.log.Debug().Str("user", c.Name).Str("receiver", msg.To).Msg("whisper to offline user")
		return
	}

	out := core.Message{
		Type:      core.MessageWhisper,
		From:      c.Name,
		FromID:    c.UserID,
		To:        msg.To,
		Text:      msg.Text,
		CreatedAt: h.now(),
	}
	d := Delivery{Destination: proto.WhisperQueue, Message: out}
	for _, r := range receivers {
		h.send(r, d)
	}
	if msg.To != c.Name {
		h.send(c, d)
	}
	h.log.Info().Str("user", c.Name).Str("receiver", msg.To).Msg("whisper")
}

// sessionsOf returns the online sessions of a nickname.
func (h *Hub) sessionsOf(name string) []*Client {
	if name == "" {
		return nil
	}
	var out []*Client
	for c := range h.clients {
		if c.Name == name && c.room != "" {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) broadcast(room string, msg core.Message) {
	d := Delivery{Destination: proto.TopicFor(room), Message: msg}
	for c := range h.topics[room] {
		h.send(c, d)
	}
}

func (h *Hub) send(c *Client, d Delivery) {
	if !c.deliver(d) {
		h.log.Warn().Str("client_id", c.ID).Str("destination", d.Destination).Msg("slow consumer, message dropped")
	}
}

func (h *Hub) onlineUsers(room string) []string {
	if room != "" {
		r, ok := h.rooms[room]
		if !ok {
			return []string{}
		}
		return r.Names()
	}
	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if c.room != "" {
			names = append(names, c.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// roomInfos lists permanent rooms first, then the rest by id.
func (h *Hub) roomInfos() []proto.RoomInfo {
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	slices.SortFunc(rooms, func(a, b *Room) int {
		if a.Permanent != b.Permanent {
			if a.Permanent {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	infos := make([]proto.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	return infos
}
