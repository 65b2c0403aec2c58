package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
)

func sampleEnvelope(id string) domain.Envelope {
	return domain.Envelope{
		EventID:   id,
		EventType: domain.EventStreamLive,
		AppID:     "app-1",
		StreamKey: "live_abc",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:      map[string]string{"client_ip": "10.0.0.1"},
	}
}

func collect(t *testing.T, sub Subscriber) (<-chan domain.Envelope, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.Envelope, 8)
	go func() {
		_ = sub.Subscribe(ctx, func(env domain.Envelope) { got <- env })
	}()
	return got, cancel
}

func TestEventBus_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewEventBus(client, "streamgate:events", "gw-1", zap.NewNop().Sugar())
	listener := NewEventBus(client, "streamgate:events", "rt-1", zap.NewNop().Sugar())

	got, cancel := collect(t, listener)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("streamgate:*")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env := sampleEnvelope("e1")
	require.NoError(t, publisher.Broadcast(context.Background(), env))

	select {
	case received := <-got:
		assert.Equal(t, env, received)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, client.Publish(context.Background(), "streamgate:events", "not json").Err())
	require.NoError(t, publisher.Broadcast(context.Background(), sampleEnvelope("e2")))
	select {
	case received := <-got:
		assert.Equal(t, "e2", received.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("bus stopped after malformed message")
	}
}

func TestEventBus_BroadcastFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	bus := NewEventBus(client, "streamgate:events", "gw-1", zap.NewNop().Sugar())
	assert.Error(t, bus.Broadcast(context.Background(), sampleEnvelope("e1")))
}

func TestLocalBus_FanOut(t *testing.T) {
	bus := NewLocalBus(4)
	first, cancelFirst := collect(t, bus)
	second, cancelSecond := collect(t, bus)
	defer cancelSecond()

	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Broadcast(context.Background(), sampleEnvelope("e1")))

	assert.Equal(t, "e1", (<-first).EventID)
	assert.Equal(t, "e1", (<-second).EventID)

	cancelFirst()
	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, time.Second, 5*time.Millisecond)
}
