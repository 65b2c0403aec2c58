package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	apperrors "streamgate/pkg/errors"
	"streamgate/pkg/tracing"
	"streamgate/pkg/utils"
)

type GatewayConfig struct {
	ValidationTimeout time.Duration
	DecisionDeadline  time.Duration
	// FailOpen admits publishes when the validation collaborator is
	// unreachable instead of denying them with 503.
	FailOpen bool
}

type ingestGateway struct {
	sessions  ports.SessionRegistry
	stats     ports.StatsRepository
	validator ports.StreamValidator
	playback  ports.PlaybackAuthorizer
	notifier  ports.EventNotifier
	metrics   ports.MetricsRecorder
	clock     clockwork.Clock
	logger    *zap.SugaredLogger
	config    GatewayConfig
}

func NewIngestGateway(
	sessions ports.SessionRegistry,
	stats ports.StatsRepository,
	validator ports.StreamValidator,
	playback ports.PlaybackAuthorizer,
	notifier ports.EventNotifier,
	metrics ports.MetricsRecorder,
	clock clockwork.Clock,
	config GatewayConfig,
	logger *zap.SugaredLogger,
) ports.IngestGateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if config.ValidationTimeout <= 0 {
		config.ValidationTimeout = 3 * time.Second
	}
	if config.DecisionDeadline <= 0 {
		config.DecisionDeadline = 5 * time.Second
	}
	return &ingestGateway{
		sessions:  sessions,
		stats:     stats,
		validator: validator,
		playback:  playback,
		notifier:  notifier,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		config:    config,
	}
}

func (g *ingestGateway) AuthorizePublish(ctx context.Context, req ports.PublishRequest) (*domain.StreamSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.DecisionDeadline)
	defer cancel()

	if req.StreamKey == "" {
		g.metrics.RecordAuthDecision("publish", "denied")
		return nil, apperrors.NewAuthDeniedError("stream key is required")
	}

	result, err := g.validate(ctx, req)
	if err != nil {
		if !g.config.FailOpen {
			g.metrics.RecordAuthDecision("publish", "upstream_unavailable")
			g.logger.Errorw("Stream validation unavailable, denying publish",
				"stream_key", utils.MaskSensitive(string(req.StreamKey), 4),
				"error", err,
			)
			return nil, apperrors.NewUpstreamUnavailableError(err)
		}
		g.logger.Warnw("Stream validation unavailable, admitting publish",
			"stream_key", utils.MaskSensitive(string(req.StreamKey), 4),
			"app", req.App,
			"error", err,
		)
		result = domain.ValidationResult{Valid: true, AppID: domain.AppID(req.App)}
	}
	if !result.Valid {
		g.metrics.RecordAuthDecision("publish", "denied")
		return nil, apperrors.NewAuthDeniedError("invalid stream key")
	}

	live, err := g.sessions.IsLive(ctx, req.StreamKey)
	if err != nil {
		return nil, storeError(err)
	}
	if live {
		g.metrics.RecordAuthDecision("publish", "conflict")
		return nil, apperrors.NewConflictError("stream is already live")
	}

	session := &domain.StreamSession{
		StreamKey: req.StreamKey,
		StreamID:  result.StreamID,
		AppID:     result.AppID,
		State:     domain.SessionLive,
		StartedAt: g.clock.Now().UTC(),
		ClientIP:  req.ClientIP,
	}
	if err := g.sessions.Begin(ctx, session); err != nil {
		if errors.Is(err, domain.ErrStreamAlreadyLive) {
			g.metrics.RecordAuthDecision("publish", "conflict")
			return nil, apperrors.NewConflictError("stream is already live")
		}
		return nil, storeError(err)
	}

	if err := g.stats.RecordPublish(ctx, req.StreamKey, session.StartedAt); err != nil {
		g.logger.Warnw("Failed to record publish stats", "stream_key", req.StreamKey, "error", err)
	}

	g.metrics.RecordAuthDecision("publish", "allowed")
	g.metrics.RecordSessionStarted()
	g.logger.Infow("Publish authorized",
		"stream_key", utils.MaskSensitive(string(req.StreamKey), 4),
		"stream_id", session.StreamID,
		"app_id", session.AppID,
		"client_ip", req.ClientIP,
	)

	g.notify(domain.EventStreamLive, session, map[string]string{
		domain.DataClientIP: req.ClientIP,
	})
	return session, nil
}

func (g *ingestGateway) validate(ctx context.Context, req ports.PublishRequest) (domain.ValidationResult, error) {
	ctx, span := tracing.TraceValidation(ctx, utils.MaskSensitive(string(req.StreamKey), 4))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.config.ValidationTimeout)
	defer cancel()

	result, err := g.validator.ValidateStreamKey(ctx, req.StreamKey, req.App, req.ClientIP)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.ValidationResult{}, err
	}
	return result, nil
}

func (g *ingestGateway) PublishDone(ctx context.Context, key domain.StreamKey) *domain.StreamSession {
	if key == "" {
		return nil
	}

	session, err := g.sessions.End(ctx, key)
	if err != nil {
		g.logger.Errorw("Failed to end session", "stream_key", key, "error", err)
		return nil
	}
	if session == nil {
		g.logger.Debugw("publish_done for unknown session", "stream_key", key)
		return nil
	}

	duration := session.Duration(g.clock.Now())
	g.metrics.RecordSessionEnded(duration)
	g.logger.Infow("Stream ended",
		"stream_key", utils.MaskSensitive(string(key), 4),
		"app_id", session.AppID,
		"duration", utils.FormatDuration(duration),
	)

	session.State = domain.SessionIdle
	g.notify(domain.EventStreamOffline, session, map[string]string{
		"duration": strconv.FormatInt(int64(duration/time.Second), 10),
		"reason":   "publish_done",
	})
	return session
}

func (g *ingestGateway) AuthorizePlay(ctx context.Context, req ports.PlayRequest) error {
	if req.StreamKey == "" {
		g.metrics.RecordAuthDecision("play", "denied")
		return apperrors.NewAuthDeniedError("stream key is required")
	}

	if g.playback != nil {
		if err := g.playback.AuthorizePlayback(ctx, req.StreamKey, req.Token); err != nil {
			g.metrics.RecordAuthDecision("play", "denied")
			return apperrors.Wrap(err, apperrors.ErrCodeAuthDenied, "playback token rejected")
		}
	}

	if _, err := g.sessions.ViewerDelta(ctx, req.StreamKey, 1); err != nil {
		g.logger.Warnw("Failed to increment viewers", "stream_key", req.StreamKey, "error", err)
	}
	if err := g.stats.RecordPlay(ctx, req.StreamKey, g.clock.Now().UTC()); err != nil {
		g.logger.Warnw("Failed to record play stats", "stream_key", req.StreamKey, "error", err)
	}

	g.metrics.RecordAuthDecision("play", "allowed")
	return nil
}

func (g *ingestGateway) PlayDone(ctx context.Context, key domain.StreamKey) {
	if key == "" {
		return
	}
	if _, err := g.sessions.ViewerDelta(ctx, key, -1); err != nil {
		g.logger.Warnw("Failed to decrement viewers", "stream_key", key, "error", err)
	}
}

func (g *ingestGateway) Refresh(ctx context.Context, key domain.StreamKey) {
	if key == "" {
		return
	}
	live, err := g.sessions.Refresh(ctx, key)
	if err != nil {
		g.logger.Warnw("Failed to refresh session", "stream_key", utils.MaskSensitive(string(key), 4), "error", err)
		return
	}
	if !live {
		g.logger.Debugw("Update for unknown session", "stream_key", utils.MaskSensitive(string(key), 4))
	}
}

func (g *ingestGateway) notify(eventType domain.EventType, session *domain.StreamSession, data map[string]string) {
	if g.notifier == nil {
		return
	}
	g.notifier.Notify(domain.Envelope{
		EventID:   utils.NewEventID(),
		EventType: eventType,
		AppID:     session.AppID,
		StreamID:  session.StreamID,
		StreamKey: session.StreamKey,
		Timestamp: g.clock.Now().UTC(),
		Data:      data,
	})
}

func storeError(err error) error {
	return apperrors.NewStoreUnavailableError(err, "session store")
}
