// Package stompws carries STOMP 1.2 frames over a WebSocket, one frame per message.
// A message containing only end-of-line bytes is a heart-beat.
package stompws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/terminalnexus/tnchat/internal/proto"
)

var heartbeatPayload = []byte{'\n'}

// ErrMalformedFrame marks payloads that are not a valid STOMP frame.
var ErrMalformedFrame = errors.New("malformed stomp frame")

// Conn is a STOMP connection on top of a WebSocket.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a client connection to a STOMP-over-WebSocket endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{proto.Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Accept upgrades an HTTP request to a server side STOMP connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		Subprotocols:       []string{proto.Subprotocol, "v11.stomp", "v10.stomp"},
	})
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// SetReadLimit caps the size of a single inbound message.
func (c *Conn) SetReadLimit(n int64) {
	if n > 0 {
		c.ws.SetReadLimit(n)
	}
}

// ReadFrame blocks for the next frame. A nil frame with a nil error is a heart-beat.
func (c *Conn) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// WriteFrame encodes f and sends it as a single text message.
func (c *Conn) WriteFrame(ctx context.Context, f *frame.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteHeartbeat sends an end-of-line heart-beat.
func (c *Conn) WriteHeartbeat(ctx context.Context) error {
	return c.ws.Write(ctx, websocket.MessageText, heartbeatPayload)
}

// Close performs a normal closing handshake.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

// CloseWith closes with an explicit status.
func (c *Conn) CloseWith(status websocket.StatusCode, reason string) error {
	return c.ws.Close(status, reason)
}

// Decode parses one message payload. Heart-beats decode to a nil frame.
func Decode(data []byte) (*frame.Frame, error) {
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return f, nil
}

// Encode serialises one frame.
func Encode(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return heartbeatPayload, nil
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode stomp frame: %w", err)
	}
	return buf.Bytes(), nil
}

// IsNormalClose reports whether err is the result of an orderly shutdown.
func IsNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
