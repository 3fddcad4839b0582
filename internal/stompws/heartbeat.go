package stompws

import (
	"fmt"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// FormatHeartBeat renders a heart-beat header value in milliseconds.
func FormatHeartBeat(send, recv time.Duration) string {
	return fmt.Sprintf("%d,%d", send.Milliseconds(), recv.Milliseconds())
}

// ParseHeartBeat parses a heart-beat header. An absent header means no heart-beats.
func ParseHeartBeat(value string) (send, recv time.Duration, err error) {
	if value == "" {
		return 0, 0, nil
	}
	return frame.ParseHeartBeat(value)
}

// Negotiate computes the effective intervals for one side of a connection.
// localSend/localRecv are what this side offers; peerSend/peerRecv are what the
// peer advertised. Zero means disabled in that direction.
func Negotiate(localSend, localRecv, peerSend, peerRecv time.Duration) (send, recv time.Duration) {
	if localSend > 0 && peerRecv > 0 {
		send = max(localSend, peerRecv)
	}
	if localRecv > 0 && peerSend > 0 {
		recv = max(localRecv, peerSend)
	}
	return send, recv
}

// ReadTimeout is how long a side waits for any inbound traffic before it
// considers the peer gone. Zero disables the check.
func ReadTimeout(recv time.Duration) time.Duration {
	if recv <= 0 {
		return 0
	}
	return recv*2 + recv/2
}
