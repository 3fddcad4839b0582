package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/terminalnexus/tnchat/internal/broker"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/proto"
	"github.com/terminalnexus/tnchat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatHandlers serves the read side of the chat: presence, rooms and history.
type ChatHandlers struct {
	hub      *broker.Hub
	messages store.MessageStore
	log      *zerolog.Logger
}

// NewChatHandlers creates chat handlers. messages may be nil when history is disabled.
func NewChatHandlers(hub *broker.Hub, messages store.MessageStore, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		hub:      hub,
		messages: messages,
		log:      logger,
	}
}

// HistoryMessage is a persisted message in API responses.
type HistoryMessage struct {
	ID int64 `json:"id"`
	proto.ChatMessage
}

// OnlineUsers lists nicknames online in a room, or anywhere without roomId.
// GET /api/chat/users?roomId={room}
func (h *ChatHandlers) OnlineUsers(c *gin.Context) {
	room := c.Query("roomId")
	if room != "" && !core.ValidRoomID(room) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	users, err := h.hub.OnlineUsers(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list online users")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat unavailable"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// Rooms lists known rooms with their participants.
// GET /api/chat/rooms
func (h *ChatHandlers) Rooms(c *gin.Context) {
	rooms, err := h.hub.Rooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat unavailable"})
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// History returns stored chat messages of a room in chronological order.
// GET /api/chat/rooms/{room}/messages?limit=&before=
func (h *ChatHandlers) History(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "history is disabled"})
		return
	}
	room := c.Param("room")
	if !core.ValidRoomID(room) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	if core.IsDirectRoom(room) && !participant(room, c.GetString(ContextKeyUsername)) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before id"})
			return
		}
		before = &id
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), room, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := core.Message{
			Type:      core.MessageType(m.Type),
			Room:      m.Room,
			From:      m.Sender,
			FromID:    m.SenderID,
			Text:      m.Body,
			Anonymous: m.Anonymous,
			CreatedAt: m.CreatedAt,
		}
		response = append(response, HistoryMessage{ID: m.ID, ChatMessage: msg.Payload()})
	}
	c.JSON(http.StatusOK, response)
}

// participant reports whether user is one of the two parties of a private room.
func participant(room, user string) bool {
	if user == "" {
		return false
	}
	rest := strings.TrimPrefix(room, "private_")
	return strings.HasPrefix(rest, user+"_") || strings.HasSuffix(rest, "_"+user)
}
