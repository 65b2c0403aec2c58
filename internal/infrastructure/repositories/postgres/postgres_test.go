package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/internal/core/domain"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STREAMGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STREAMGATE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, PoolOptions{DSN: dsn, MaxConns: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestSubscriptionRepository_ListActive(t *testing.T) {
	pool := testPool(t)
	repo := NewSubscriptionRepository(pool)
	ctx := context.Background()
	app := domain.AppID("app-" + uuid.NewString())

	subs := []domain.WebhookSubscription{
		{ID: domain.SubscriptionID(uuid.NewString()), AppID: app, URL: "https://a.example/hook", Events: []domain.EventType{domain.EventStreamLive}, Secret: "s", Active: true},
		{ID: domain.SubscriptionID(uuid.NewString()), AppID: app, URL: "https://b.example/hook", Events: []domain.EventType{domain.EventStreamOffline}, Active: true},
		{ID: domain.SubscriptionID(uuid.NewString()), AppID: app, URL: "https://c.example/hook", Events: []domain.EventType{domain.EventStreamLive}, Active: false},
	}
	for _, s := range subs {
		require.NoError(t, repo.Upsert(ctx, s))
	}

	got, err := repo.ListActive(ctx, app, domain.EventStreamLive)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, subs[0].ID, got[0].ID)
	assert.Equal(t, "s", got[0].Secret)

	one, err := repo.GetByID(ctx, subs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventStreamOffline}, one.Events)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestAttemptLog_AppendAndList(t *testing.T) {
	pool := testPool(t)
	log := NewAttemptLog(pool)
	ctx := context.Background()
	sub := domain.SubscriptionID(uuid.NewString())
	ts := time.Now().UTC().Truncate(time.Millisecond)

	for i := 1; i <= 2; i++ {
		require.NoError(t, log.Append(ctx, &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub,
			EventID:        "evt",
			EventType:      domain.EventStreamLive,
			Payload:        []byte(`{"event_id": "evt"}`),
			Attempt:        i,
			Outcome:        domain.OutcomeTransientFailure,
			HTTPStatus:     503,
			Timestamp:      ts.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := log.ListBySubscription(ctx, sub, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Attempt)
	assert.Equal(t, 503, got[0].HTTPStatus)
	assert.JSONEq(t, `{"event_id":"evt"}`, string(got[0].Payload))
}
