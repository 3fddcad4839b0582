package session

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"
)

// PresenceFetcher loads the authoritative online list of a room.
type PresenceFetcher interface {
	OnlineUsers(ctx context.Context, room string) ([]string, error)
}

// PresenceFetcherFunc adapts a function to PresenceFetcher.
type PresenceFetcherFunc func(ctx context.Context, room string) ([]string, error)

func (f PresenceFetcherFunc) OnlineUsers(ctx context.Context, room string) ([]string, error) {
	return f(ctx, room)
}

// presenceLoader collapses concurrent fetches of the same room into one request.
// A burst of JOIN and LEAVE events therefore costs a single round trip.
type presenceLoader struct {
	fetcher PresenceFetcher
	timeout time.Duration
	group   singleflight.Group
}

func newPresenceLoader(fetcher PresenceFetcher, timeout time.Duration) *presenceLoader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &presenceLoader{fetcher: fetcher, timeout: timeout}
}

func (p *presenceLoader) Load(ctx context.Context, room string) ([]string, error) {
	v, err, _ := p.group.Do(room, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.fetcher.OnlineUsers(ctx, room)
	})
	if err != nil {
		return nil, err
	}
	users, _ := v.([]string)
	return slices.Clone(users), nil
}
