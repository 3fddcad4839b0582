package broker

import "github.com/terminalnexus/tnchat/internal/core"

// Delivery is a message addressed to one session on one destination.
type Delivery struct {
	Destination string
	Message     core.Message
}

// Client is a connected broker session as seen by the hub.
type Client struct {
	ID     string
	Name   string
	UserID string
	Outbox chan Delivery

	// owned by the hub goroutine
	room   string
	topics map[string]int
}

// NewClient constructs a client with an initialized outbox.
func NewClient(id, name, userID string) *Client {
	if name == "" {
		name = id
	}
	return &Client{
		ID:     id,
		Name:   name,
		UserID: userID,
		Outbox: make(chan Delivery, 64),
		topics: make(map[string]int),
	}
}

// deliver queues d without blocking. Slow consumers lose messages.
func (c *Client) deliver(d Delivery) bool {
	select {
	case c.Outbox <- d:
		return true
	default:
		return false
	}
}
