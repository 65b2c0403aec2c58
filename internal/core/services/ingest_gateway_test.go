package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/infrastructure/repositories/memory"
	apperrors "streamgate/pkg/errors"
)

type gatewayFixture struct {
	clock    *clockwork.FakeClock
	sessions *memory.SessionRegistry
	stats    *memory.StatsRepository
	notifier *recordingNotifier
	gateway  ports.IngestGateway
}

func newGatewayFixture(t *testing.T, validator ports.StreamValidator, playback ports.PlaybackAuthorizer, cfg GatewayConfig) *gatewayFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &gatewayFixture{
		clock:    clock,
		sessions: memory.NewSessionRegistry(clock, 24*time.Hour, 2*time.Minute),
		stats:    memory.NewStatsRepository(),
		notifier: &recordingNotifier{},
	}
	if validator == nil {
		validator = memory.NewStaticValidator(map[domain.StreamKey]domain.ValidationResult{
			"live_abc": {StreamID: "stream-1", AppID: "app-1"},
		})
	}
	f.gateway = NewIngestGateway(f.sessions, f.stats, validator, playback, f.notifier, nil, clock, cfg, zap.NewNop().Sugar())
	return f
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode, status int) {
	t.Helper()
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.HTTPStatus)
}

func TestGateway_PublishAllowsValidKey(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})
	ctx := context.Background()

	session, err := f.gateway.AuthorizePublish(ctx, ports.PublishRequest{StreamKey: "live_abc", ClientIP: "203.0.113.7", App: "live"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID("stream-1"), session.StreamID)
	assert.Equal(t, domain.AppID("app-1"), session.AppID)
	assert.Equal(t, domain.SessionLive, session.State)

	live, err := f.sessions.IsLive(ctx, "live_abc")
	require.NoError(t, err)
	assert.True(t, live)

	stats, err := f.stats.Get(ctx, "live_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPublishes)

	events := f.notifier.events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStreamLive, events[0].EventType)
	assert.Equal(t, domain.AppID("app-1"), events[0].AppID)
	assert.Equal(t, "203.0.113.7", events[0].Data["client_ip"])
	assert.NotEmpty(t, events[0].EventID)
}

func TestGateway_PublishDeniesUnknownKey(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})

	_, err := f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{StreamKey: "nope"})
	requireCode(t, err, apperrors.ErrCodeAuthDenied, http.StatusForbidden)

	_, err = f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{})
	requireCode(t, err, apperrors.ErrCodeAuthDenied, http.StatusForbidden)
	assert.Empty(t, f.notifier.events())
}

func TestGateway_SecondPublishConflicts(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})
	req := ports.PublishRequest{StreamKey: "live_abc"}

	_, err := f.gateway.AuthorizePublish(context.Background(), req)
	require.NoError(t, err)

	_, err = f.gateway.AuthorizePublish(context.Background(), req)
	requireCode(t, err, apperrors.ErrCodeConflict, http.StatusConflict)
	assert.Len(t, f.notifier.events(), 1)
}

func TestGateway_ConcurrentPublishesHaveOneWinner(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{StreamKey: "live_abc"})
			if err == nil {
				wins.Add(1)
				return
			}
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(24), conflicts.Load())
}

func TestGateway_UpstreamFailureClosedDenies(t *testing.T) {
	validator := new(mockValidator)
	validator.On("ValidateStreamKey", mock.Anything, domain.StreamKey("live_abc"), "edge-app", "10.0.0.5").
		Return(domain.ValidationResult{}, domain.ErrUpstreamUnavailable).Once()
	f := newGatewayFixture(t, validator, nil, GatewayConfig{})

	_, err := f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{StreamKey: "live_abc", App: "edge-app", ClientIP: "10.0.0.5"})
	requireCode(t, err, apperrors.ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	validator.AssertExpectations(t)

	live, _ := f.sessions.IsLive(context.Background(), "live_abc")
	assert.False(t, live)
}

func TestGateway_UpstreamFailureOpenAdmits(t *testing.T) {
	validator := new(mockValidator)
	validator.On("ValidateStreamKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.ValidationResult{}, domain.ErrUpstreamUnavailable)
	f := newGatewayFixture(t, validator, nil, GatewayConfig{FailOpen: true})

	session, err := f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{StreamKey: "live_abc", App: "edge-app"})
	require.NoError(t, err)
	assert.Equal(t, domain.AppID("edge-app"), session.AppID)
	assert.Empty(t, session.StreamID)

	events := f.notifier.events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStreamLive, events[0].EventType)
}

func TestGateway_ValidationTimeoutIsUpstreamFailure(t *testing.T) {
	f := newGatewayFixture(t, slowValidator{}, nil, GatewayConfig{ValidationTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := f.gateway.AuthorizePublish(context.Background(), ports.PublishRequest{StreamKey: "live_abc"})
	requireCode(t, err, apperrors.ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_PublishDoneEmitsOfflineWithDuration(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})
	ctx := context.Background()

	_, err := f.gateway.AuthorizePublish(ctx, ports.PublishRequest{StreamKey: "live_abc"})
	require.NoError(t, err)
	f.clock.Advance(42 * time.Second)

	ended := f.gateway.PublishDone(ctx, "live_abc")
	require.NotNil(t, ended)
	assert.Equal(t, domain.SessionIdle, ended.State)

	events := f.notifier.events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStreamOffline, events[1].EventType)
	assert.Equal(t, "42", events[1].Data["duration"])
	assert.Equal(t, domain.AppID("app-1"), events[1].AppID)

	live, _ := f.sessions.IsLive(ctx, "live_abc")
	assert.False(t, live)

	_, err = f.gateway.AuthorizePublish(ctx, ports.PublishRequest{StreamKey: "live_abc"})
	assert.NoError(t, err)
}

func TestGateway_PublishDoneUnknownKeyIsQuiet(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})

	assert.Nil(t, f.gateway.PublishDone(context.Background(), "never-published"))
	assert.Nil(t, f.gateway.PublishDone(context.Background(), ""))
	assert.Empty(t, f.notifier.events())
}

func TestGateway_ViewerCountNeverNegative(t *testing.T) {
	f := newGatewayFixture(t, nil, nil, GatewayConfig{})
	ctx := context.Background()
	_, err := f.gateway.AuthorizePublish(ctx, ports.PublishRequest{StreamKey: "live_abc"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.gateway.AuthorizePlay(ctx, ports.PlayRequest{StreamKey: "live_abc"}))
	}
	for i := 0; i < 3; i++ {
		f.gateway.PlayDone(ctx, "live_abc")
	}
	session, err := f.sessions.Get(ctx, "live_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), session.ViewerCount)

	for i := 0; i < 4; i++ {
		f.gateway.PlayDone(ctx, "live_abc")
	}
	session, err = f.sessions.Get(ctx, "live_abc")
	require.NoError(t, err)
	assert.Zero(t, session.ViewerCount)

	stats, err := f.stats.Get(ctx, "live_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalPlays)
	assert.Len(t, f.notifier.events(), 1)
}

func TestGateway_PlaybackTokens(t *testing.T) {
	playback := NewPlaybackAuthorizer(true, "viewer-secret")
	f := newGatewayFixture(t, nil, playback, GatewayConfig{})
	ctx := context.Background()

	err := f.gateway.AuthorizePlay(ctx, ports.PlayRequest{StreamKey: "live_abc"})
	requireCode(t, err, apperrors.ErrCodeAuthDenied, http.StatusForbidden)

	token, err := SignPlaybackToken("viewer-secret", "live_abc", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, f.gateway.AuthorizePlay(ctx, ports.PlayRequest{StreamKey: "live_abc", Token: token}))

	err = f.gateway.AuthorizePlay(ctx, ports.PlayRequest{StreamKey: "other", Token: token})
	requireCode(t, err, apperrors.ErrCodeAuthDenied, http.StatusForbidden)
}
