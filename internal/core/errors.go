package core

import (
	"errors"
	"fmt"
)

// Error codes carried by notice events.
const (
	ErrCodeTransport          = "transport_error"
	ErrCodeNotConnected       = "not_connected"
	ErrCodeDecode             = "decode_error"
	ErrCodeNoReplyTarget      = "no_reply_target"
	ErrCodeInvalidTarget      = "invalid_whisper_target"
	ErrCodeClosed             = "closed"
	ErrCodeBroker             = "broker_error"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnknownDestination = "unknown_destination"
	ErrCodeRateLimited        = "rate_limited"
)

var (
	// ErrNotConnected is returned when subscribe or publish runs while the connection is not CONNECTED.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned to operations pending or started after Close.
	ErrClosed = errors.New("session closed")
	// ErrNoReplyTarget is returned by the reply directive before any successful whisper.
	ErrNoReplyTarget = errors.New("no one to reply to, send a whisper first")
	// ErrBadRequest marks malformed commands.
	ErrBadRequest = errors.New("bad request")
)

// TransportError describes a failed connect or reconnect attempt.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError describes an inbound frame that could not be turned into a message.
type DecodeError struct {
	Destination string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame from %q: %v", e.Destination, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidWhisperTargetError is returned when a whisper names a user that is not online.
type InvalidWhisperTargetError struct {
	Target string
	Reason string
}

func (e *InvalidWhisperTargetError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot whisper %q: %s", e.Target, e.Reason)
	}
	return fmt.Sprintf("user %q not found", e.Target)
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AsCoreError maps any error produced by the session core to a coded notice.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var (
		ce  *CoreError
		te  *TransportError
		de  *DecodeError
		iwt *InvalidWhisperTargetError
	)
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.As(err, &iwt):
		return coreError(ErrCodeInvalidTarget, iwt.Error())
	case errors.Is(err, ErrNoReplyTarget):
		return coreError(ErrCodeNoReplyTarget, err.Error())
	case errors.Is(err, ErrNotConnected):
		return coreError(ErrCodeNotConnected, err.Error())
	case errors.Is(err, ErrClosed):
		return coreError(ErrCodeClosed, err.Error())
	case errors.As(err, &te):
		return coreError(ErrCodeTransport, te.Error())
	case errors.As(err, &de):
		return coreError(ErrCodeDecode, de.Error())
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	default:
		return coreError(ErrCodeTransport, err.Error())
	}
}
