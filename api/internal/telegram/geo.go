package telegram

import (
	"context"
	"sync"

	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/lunch"
)

type geoReply struct {
	coords lunch.Coordinates
	err    error
}

// LocationInbox turns a shared Telegram location into a device position fix.
// Only one request waits at a time; a reply with nobody waiting is dropped.
type LocationInbox struct {
	mu      sync.Mutex
	waiting chan geoReply
}

func NewLocationInbox() *LocationInbox { return &LocationInbox{} }

func (b *LocationInbox) RequestPosition(ctx context.Context, _ location.Options) (lunch.Coordinates, error) {
	ch := make(chan geoReply, 1)
	b.mu.Lock()
	b.waiting = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.waiting == ch {
			b.waiting = nil
		}
		b.mu.Unlock()
	}()

	select {
	case r := <-ch:
		return r.coords, r.err
	case <-ctx.Done():
		return lunch.Coordinates{}, ctx.Err()
	}
}

// Deliver resolves the pending request. It reports whether one was waiting.
func (b *LocationInbox) Deliver(c lunch.Coordinates) bool {
	return b.reply(geoReply{coords: c})
}

// Decline fails the pending request as a permission denial.
func (b *LocationInbox) Decline() bool {
	return b.reply(geoReply{err: location.ErrDenied})
}

func (b *LocationInbox) Waiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting != nil
}

func (b *LocationInbox) reply(r geoReply) bool {
	b.mu.Lock()
	ch := b.waiting
	b.waiting = nil
	b.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- r
	return true
}
