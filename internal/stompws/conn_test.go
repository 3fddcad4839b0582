package stompws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

func TestEncodeDecode(t *testing.T) {
	in := frame.New(frame.SEND,
		frame.Destination, "/app/chat.sendMessage/public",
		frame.ContentType, "application/json")
	in.Body = []byte(`{"type":"CHAT","content":"hi"}`)

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out == nil || out.Command != frame.SEND {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if out.Header.Get(frame.Destination) != "/app/chat.sendMessage/public" {
		t.Fatalf("destination lost: %q", out.Header.Get(frame.Destination))
	}
	if string(out.Body) != `{"type":"CHAT","content":"hi"}` {
		t.Fatalf("body mismatch: %q", out.Body)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	for _, payload := range []string{"\n", "\r\n"} {
		f, err := Decode([]byte(payload))
		if err != nil || f != nil {
			t.Fatalf("expected heart-beat for %q, got %+v, %v", payload, f, err)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("NOT A FRAME"))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected malformed frame error, got %v", err)
	}
}

func TestNegotiate(t *testing.T) {
	send, recv := Negotiate(4*time.Second, 4*time.Second, 10*time.Second, 2*time.Second)
	if send != 4*time.Second || recv != 10*time.Second {
		t.Fatalf("unexpected negotiation: send=%v recv=%v", send, recv)
	}
	send, recv = Negotiate(4*time.Second, 0, 0, 0)
	if send != 0 || recv != 0 {
		t.Fatalf("disabled peer must disable heart-beats: send=%v recv=%v", send, recv)
	}

	s, r, err := ParseHeartBeat(FormatHeartBeat(4*time.Second, 3*time.Second))
	if err != nil || s != 4*time.Second || r != 3*time.Second {
		t.Fatalf("heart-beat header round trip failed: %v %v %v", s, r, err)
	}
}

func TestConnExchangesFrames(t *testing.T) {
	got := make(chan *frame.Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx := r.Context()
		for {
			f, err := conn.ReadFrame(ctx)
			if err != nil {
				return
			}
			if f == nil {
				continue
			}
			got <- f
			reply := frame.New(frame.RECEIPT, frame.ReceiptId, f.Header.Get(frame.Receipt))
			if err := conn.WriteFrame(ctx, reply); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := Dial(ctx, strings.Replace(srv.URL, "http", "ws", 1), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteHeartbeat(ctx); err != nil {
		t.Fatalf("heart-beat: %v", err)
	}
	if err := conn.WriteFrame(ctx, frame.New(frame.SUBSCRIBE, frame.Id, "sub-0", frame.Destination, "/topic/public", frame.Receipt, "r-1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-got:
		if f.Command != frame.SUBSCRIBE || f.Header.Get(frame.Id) != "sub-0" {
			t.Fatalf("server saw unexpected frame: %+v", f)
		}
	case <-ctx.Done():
		t.Fatalf("server did not receive frame")
	}

	reply, err := conn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Command != frame.RECEIPT || reply.Header.Get(frame.ReceiptId) != "r-1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
