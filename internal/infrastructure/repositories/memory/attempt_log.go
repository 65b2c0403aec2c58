package memory

import (
	"context"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// AttemptLog keeps the newest maxPerSubscription attempts per subscription.
type AttemptLog struct {
	mu                 sync.RWMutex
	attempts           map[domain.SubscriptionID][]*domain.DeliveryAttempt
	maxPerSubscription int
}

func NewAttemptLog(maxPerSubscription int) *AttemptLog {
	if maxPerSubscription <= 0 {
		maxPerSubscription = 1000
	}
	return &AttemptLog{
		attempts:           make(map[domain.SubscriptionID][]*domain.DeliveryAttempt),
		maxPerSubscription: maxPerSubscription,
	}
}

var _ ports.DeliveryAttemptLog = (*AttemptLog)(nil)

func (l *AttemptLog) Append(_ context.Context, a *domain.DeliveryAttempt) error {
	cp := *a
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.attempts[a.SubscriptionID], &cp)
	if over := len(list) - l.maxPerSubscription; over > 0 {
		list = list[over:]
	}
	l.attempts[a.SubscriptionID] = list
	return nil
}

func (l *AttemptLog) ListBySubscription(_ context.Context, id domain.SubscriptionID, limit int) ([]*domain.DeliveryAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.attempts[id]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*domain.DeliveryAttempt, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
