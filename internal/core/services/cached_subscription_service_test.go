package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/internal/core/domain"
)

func TestCachedSubscriptionRepository_CollapsesLookups(t *testing.T) {
	base := &countingSubscriptions{subs: []domain.WebhookSubscription{testSubscription()}, delay: 50 * time.Millisecond}
	clock := clockwork.NewFakeClock()
	repo := NewCachedSubscriptionRepository(base, 30*time.Second, clock)
	defer repo.Stop()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subs, err := repo.ListActive(ctx, "app-1", domain.EventStreamLive)
			assert.NoError(t, err)
			assert.Len(t, subs, 1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, base.callCount(), 2)

	before := base.callCount()
	_, err := repo.ListActive(ctx, "app-1", domain.EventStreamLive)
	require.NoError(t, err)
	assert.Equal(t, before, base.callCount())

	repo.Invalidate("app-1")
	_, err = repo.ListActive(ctx, "app-1", domain.EventStreamLive)
	require.NoError(t, err)
	assert.Equal(t, before+1, base.callCount())
}

func TestCachedSubscriptionRepository_ErrorsAreNotCached(t *testing.T) {
	base := &countingSubscriptions{}
	repo := NewCachedSubscriptionRepository(base, time.Minute, clockwork.NewFakeClock())
	defer repo.Stop()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	assert.Equal(t, 2, base.callCount())
}
