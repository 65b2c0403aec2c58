package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
)

func TestNotifier_RoutesToBothSinks(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := &recordingDispatcher{}
	n := NewNotifier(sink, dispatcher, nil, NotifierConfig{Workers: 2, QueueSize: 16}, zap.NewNop().Sugar())

	for i := 0; i < 10; i++ {
		n.Notify(domain.Envelope{EventID: fmt.Sprintf("e%d", i), EventType: domain.EventStreamLive, AppID: "app"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	assert.Equal(t, 10, sink.count())
	assert.Equal(t, 10, dispatcher.count())
}

func TestNotifier_SinkFailuresAreIsolated(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	dispatcher := &recordingDispatcher{err: errors.New("control plane down")}
	n := NewNotifier(sink, dispatcher, nil, NotifierConfig{Workers: 1, QueueSize: 4}, zap.NewNop().Sugar())

	assert.NotPanics(t, func() {
		n.Notify(domain.Envelope{EventID: "e1", EventType: domain.EventStreamOffline})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, dispatcher.count())
}

func TestNotifier_FullQueueNeverBlocksCaller(t *testing.T) {
	dispatcher := &recordingDispatcher{delay: 50 * time.Millisecond}
	n := NewNotifier(nil, dispatcher, nil, NotifierConfig{Workers: 1, QueueSize: 1}, zap.NewNop().Sugar())

	start := time.Now()
	for i := 0; i < 20; i++ {
		n.Notify(domain.Envelope{EventID: fmt.Sprintf("e%d", i)})
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
	assert.Equal(t, 20, dispatcher.count())
}

func TestNotifier_NotifyAfterCloseDrops(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	n := NewNotifier(nil, dispatcher, nil, NotifierConfig{}, zap.NewNop().Sugar())
	require.NoError(t, n.Close(context.Background()))
	require.NoError(t, n.Close(context.Background()))

	n.Notify(domain.Envelope{EventID: "late"})
	assert.Zero(t, dispatcher.count())
}
