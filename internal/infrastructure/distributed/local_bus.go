package distributed

import (
	"context"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// LocalBus fans envelopes out inside one process. It stands in for the
// Redis bus when Redis is disabled.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan domain.Envelope
	buffer int
}

var (
	_ ports.RealtimeSink = (*LocalBus)(nil)
	_ Subscriber         = (*LocalBus)(nil)
)

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBus{subs: make(map[int]chan domain.Envelope), buffer: buffer}
}

// Broadcast never blocks; subscribers that fall behind lose envelopes.
func (b *LocalBus) Broadcast(_ context.Context, env domain.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	ch := make(chan domain.Envelope, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-ch:
			handler(env)
		}
	}
}

func (b *LocalBus) subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
