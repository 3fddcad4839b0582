package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/terminalnexus/tnchat/internal/core"
)

// line is one printable row of the conversation view.
type line struct {
	text  string
	color string
}

// describe renders a session event for the conversation view. Presence and room
// switches are not rendered as rows.
func describe(ev core.Event, self string) (line, bool) {
	switch ev.Kind {
	case core.EventMessage:
		return line{text: fmt.Sprintf("%s %s: %s", stamp(ev.Message.CreatedAt), ev.Message.From, ev.Message.Text), color: "white"}, true
	case core.EventUserJoined:
		return line{text: fmt.Sprintf("* %s joined %s", ev.User, ev.Room), color: "green"}, true
	case core.EventUserLeft:
		return line{text: fmt.Sprintf("* %s left %s", ev.User, ev.Room), color: "green"}, true
	case core.EventWhisper:
		msg := ev.Message
		if msg.From == self {
			return line{text: fmt.Sprintf("%s -> %s: %s", stamp(msg.CreatedAt), msg.To, msg.Text), color: "fuchsia"}, true
		}
		return line{text: fmt.Sprintf("%s %s whispers: %s", stamp(msg.CreatedAt), msg.From, msg.Text), color: "fuchsia"}, true
	case core.EventState:
		return line{text: "-- " + ev.State, color: "gray"}, true
	case core.EventNotice:
		if ev.Error == nil {
			return line{}, false
		}
		return line{text: "! " + ev.Error.Message, color: "red"}, true
	default:
		return line{}, false
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Local().Format("15:04:05")
}

func formatUsers(users []string) string {
	if len(users) == 0 {
		return "nobody"
	}
	return strings.Join(users, ", ")
}
