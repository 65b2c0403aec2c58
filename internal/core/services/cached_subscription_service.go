package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/cache"
)

// CachedSubscriptionRepository wraps a SubscriptionRepository with a short
// TTL cache. Concurrent misses for the same key share one upstream lookup.
type CachedSubscriptionRepository struct {
	base  ports.SubscriptionRepository
	lists *cache.Cache[[]domain.WebhookSubscription]
	byID  *cache.Cache[*domain.WebhookSubscription]
}

func NewCachedSubscriptionRepository(base ports.SubscriptionRepository, ttl time.Duration, clock clockwork.Clock) *CachedSubscriptionRepository {
	return &CachedSubscriptionRepository{
		base:  base,
		lists: cache.New[[]domain.WebhookSubscription](ttl, clock),
		byID:  cache.New[*domain.WebhookSubscription](ttl, clock),
	}
}

func (r *CachedSubscriptionRepository) ListActive(ctx context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	key := fmt.Sprintf("subs:%s:%s", appID, eventType)
	return r.lists.GetOrLoad(ctx, key, func(ctx context.Context) ([]domain.WebhookSubscription, error) {
		return r.base.ListActive(ctx, appID, eventType)
	})
}

func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error) {
	return r.byID.GetOrLoad(ctx, "sub:"+string(id), func(ctx context.Context) (*domain.WebhookSubscription, error) {
		return r.base.GetByID(ctx, id)
	})
}

// Invalidate drops every cached entry for appID.
func (r *CachedSubscriptionRepository) Invalidate(appID domain.AppID) {
	r.lists.InvalidatePrefix(fmt.Sprintf("subs:%s:", appID))
}

func (r *CachedSubscriptionRepository) Stop() {
	r.lists.Stop()
	r.byID.Stop()
}
