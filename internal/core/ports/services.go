package ports

import (
	"context"
	"time"

	"streamgate/internal/core/domain"
)

type PublishRequest struct {
	StreamKey domain.StreamKey
	ClientIP  string
	App       string
}

type PlayRequest struct {
	StreamKey domain.StreamKey
	ClientIP  string
	Token     string
}

type IngestGateway interface {
	AuthorizePublish(ctx context.Context, req PublishRequest) (*domain.StreamSession, error)
	// PublishDone never fails; it returns the ended session when one existed.
	PublishDone(ctx context.Context, key domain.StreamKey) *domain.StreamSession
	AuthorizePlay(ctx context.Context, req PlayRequest) error
	PlayDone(ctx context.Context, key domain.StreamKey)
	// Refresh handles the edge's periodic keepalive for key.
	Refresh(ctx context.Context, key domain.StreamKey)
}

// EventNotifier accepts envelopes for asynchronous routing. Notify never
// blocks on delivery.
type EventNotifier interface {
	Notify(env domain.Envelope)
}

// RealtimeSink is the best-effort broadcast channel. No retries.
type RealtimeSink interface {
	Broadcast(ctx context.Context, env domain.Envelope) error
}

type WebhookDispatcher interface {
	// Dispatch delivers env to one subscription. The returned channel yields
	// the terminal result once retries are exhausted or the attempt settles.
	Dispatch(ctx context.Context, sub domain.WebhookSubscription, env domain.Envelope) <-chan domain.DeliveryResult
	// Publish fans env out to every matching active subscription of its app
	// and returns how many deliveries were started.
	Publish(ctx context.Context, env domain.Envelope) (int, error)
}

type GuardRequest struct {
	ClientIP string
	APIKey   string
	Endpoint string
}

type RateGuard interface {
	Evaluate(ctx context.Context, req GuardRequest) domain.GuardDecision
	IPAllowed(ip string) bool
	Usage(ctx context.Context, identifier, endpoint string) ([]domain.RateWindow, error)
}

type PlaybackAuthorizer interface {
	AuthorizePlayback(ctx context.Context, key domain.StreamKey, token string) error
}

// MetricsRecorder is implemented by the monitoring collector.
type MetricsRecorder interface {
	RecordAuthDecision(action, outcome string)
	RecordGuardRejection(scope domain.RateScope)
	RecordGuardStoreError(failOpen bool)
	RecordDeliveryAttempt(outcome domain.DeliveryOutcome, duration time.Duration)
	RecordDeliveryResult(outcome domain.DeliveryOutcome)
	RecordNotifierFailure(sink string)
	RecordSessionStarted()
	RecordSessionEnded(duration time.Duration)
}

// WebhookRequest is one outbound POST.
type WebhookRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// WebhookSender performs a single delivery attempt. A non-nil error means no
// HTTP status was obtained.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) (int, error)
}
