package core

import (
	"regexp"
	"strings"
)

// CommandKind describes what the user wants the session to do.
type CommandKind int

const (
	// CommandSubmit interprets a line of user input.
	CommandSubmit CommandKind = iota
	// CommandSwitchRoom moves the session to another room.
	CommandSwitchRoom
	// CommandPresence asks for a copy of the active room's presence set.
	CommandPresence
	// CommandSync completes once everything queued before it has been handled.
	CommandSync
)

// Command represents an action requested by the user. Result receives the outcome
// once the session loop has processed the command.
type Command struct {
	Kind   CommandKind
	Room   string
	Text   string
	Result chan CommandResult
}

// CommandResult is the reply to a Command.
type CommandResult struct {
	Err   error
	Users []string
}

// InputKind classifies a parsed line of user input.
type InputKind int

const (
	// InputPlain is a chat message for the active room.
	InputPlain InputKind = iota
	// InputWhisper is a private message to a named user.
	InputWhisper
	// InputReply is a private message to the last whisper target.
	InputReply
)

func (k InputKind) String() string {
	switch k {
	case InputPlain:
		return "plain"
	case InputWhisper:
		return "whisper"
	case InputReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Input is the result of parsing a line typed by the user.
type Input struct {
	Kind   InputKind
	Target string // whisper only
	Text   string
}

var (
	whisperPattern = regexp.MustCompile(`(?i)^/(?:w|whisper)\s+(\S+)\s+(.+)$`)
	replyPattern   = regexp.MustCompile(`(?i)^/r\s+(.+)$`)
)

// ParseInput turns raw input into a directive. It returns false for blank input,
// which must not be dispatched. Lines that look like a directive but do not match
// its syntax are plain messages.
func ParseInput(raw string) (Input, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Input{}, false
	}
	if m := whisperPattern.FindStringSubmatch(text); m != nil {
		return Input{Kind: InputWhisper, Target: m[1], Text: m[2]}, true
	}
	if m := replyPattern.FindStringSubmatch(text); m != nil {
		return Input{Kind: InputReply, Text: m[1]}, true
	}
	return Input{Kind: InputPlain, Text: text}, true
}
