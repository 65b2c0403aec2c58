package ports

import (
	"context"
	"time"

	"streamgate/internal/core/domain"
)

// SessionRegistry is the authoritative live-session state shared by every
// gateway instance. Implementations must perform each mutation as a single
// atomic operation of the backing store.
type SessionRegistry interface {
	// Begin marks the session live. It returns domain.ErrStreamAlreadyLive
	// when a live session already exists for the key.
	Begin(ctx context.Context, session *domain.StreamSession) error
	// End removes the session and returns it, or (nil, nil) when none existed.
	End(ctx context.Context, key domain.StreamKey) (*domain.StreamSession, error)
	// ViewerDelta adjusts the viewer counter and returns the new value, never below zero.
	ViewerDelta(ctx context.Context, key domain.StreamKey, delta int64) (int64, error)
	// Refresh extends the session TTL and the viewer counter TTL for key. It
	// reports whether a live session existed.
	Refresh(ctx context.Context, key domain.StreamKey) (bool, error)
	IsLive(ctx context.Context, key domain.StreamKey) (bool, error)
	Get(ctx context.Context, key domain.StreamKey) (*domain.StreamSession, error)
	ListLive(ctx context.Context) ([]*domain.StreamSession, error)
}

type StatsRepository interface {
	RecordPublish(ctx context.Context, key domain.StreamKey, at time.Time) error
	RecordPlay(ctx context.Context, key domain.StreamKey, at time.Time) error
	Get(ctx context.Context, key domain.StreamKey) (*domain.StreamStats, error)
}

// RateStore holds fixed-window counters and block records.
type RateStore interface {
	// Hit increments the counter for key, starting a window of the given
	// length on the first hit, and returns the new count and the time left in
	// the window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Peek(ctx context.Context, key string) (int64, time.Duration, error)
	// BlockTTL returns the remaining block time for identifier, zero when not blocked.
	BlockTTL(ctx context.Context, identifier string) (time.Duration, error)
	Block(ctx context.Context, identifier string, ttl time.Duration) error
}

type SubscriptionRepository interface {
	ListActive(ctx context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error)
	GetByID(ctx context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error)
}

// DeliveryAttemptLog is the append-only audit sink for delivery attempts.
type DeliveryAttemptLog interface {
	Append(ctx context.Context, attempt *domain.DeliveryAttempt) error
	ListBySubscription(ctx context.Context, id domain.SubscriptionID, limit int) ([]*domain.DeliveryAttempt, error)
}

type StreamValidator interface {
	ValidateStreamKey(ctx context.Context, key domain.StreamKey, app, clientIP string) (domain.ValidationResult, error)
}
