package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"streamgate/internal/core/ports"
)

const sweepThreshold = 10000

type window struct {
	count     int64
	expiresAt time.Time
}

// RateStore keeps fixed windows and blocks in process memory.
type RateStore struct {
	mu       sync.Mutex
	counters map[string]window
	blocks   map[string]time.Time
	clock    clockwork.Clock
}

func NewRateStore(clock clockwork.Clock) *RateStore {
	return &RateStore{
		counters: make(map[string]window),
		blocks:   make(map[string]time.Time),
		clock:    clock,
	}
}

var _ ports.RateStore = (*RateStore)(nil)

func (s *RateStore) Hit(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if len(s.counters) > sweepThreshold {
		s.sweep(now)
	}
	w, ok := s.counters[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(length)}
	}
	w.count++
	s.counters[key] = w
	return w.count, w.expiresAt.Sub(now), nil
}

func (s *RateStore) Peek(_ context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	w, ok := s.counters[key]
	if !ok || !now.Before(w.expiresAt) {
		return 0, 0, nil
	}
	return w.count, w.expiresAt.Sub(now), nil
}

func (s *RateStore) BlockTTL(_ context.Context, identifier string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[identifier]
	if !ok {
		return 0, nil
	}
	remaining := until.Sub(s.clock.Now())
	if remaining <= 0 {
		delete(s.blocks, identifier)
		return 0, nil
	}
	return remaining, nil
}

func (s *RateStore) Block(_ context.Context, identifier string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[identifier] = s.clock.Now().Add(ttl)
	return nil
}

func (s *RateStore) sweep(now time.Time) {
	for k, w := range s.counters {
		if !now.Before(w.expiresAt) {
			delete(s.counters, k)
		}
	}
}
