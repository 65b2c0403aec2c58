package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/retry"
	"streamgate/pkg/signature"
	"streamgate/pkg/tracing"
	"streamgate/pkg/utils"
)

var ErrEngineClosed = errors.New("delivery engine closed")

// maxErrorLen bounds the transport error kept on an audit row.
const maxErrorLen = 512

type DeliveryConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  5 * time.Minute,
		RequestTimeout: 10 * time.Second,
		UserAgent:      "streamgate-webhooks/1.0",
	}
}

// DeliveryEngine sends signed envelopes to webhook subscribers with
// at-least-once semantics. Each subscription runs its own attempt chain;
// retries are scheduled on the clock rather than slept.
type DeliveryEngine struct {
	sender   ports.WebhookSender
	subs     ports.SubscriptionRepository
	attempts ports.DeliveryAttemptLog
	metrics  ports.MetricsRecorder
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	config   DeliveryConfig
	backoff  retry.Config

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closing bool
	timers  map[*delivery]clockwork.Timer
	wg      sync.WaitGroup
}

type delivery struct {
	ctx     context.Context
	sub     domain.WebhookSubscription
	env     domain.Envelope
	payload []byte
	headers map[string]string
	out     chan domain.DeliveryResult
	tries   int
}

func NewDeliveryEngine(
	sender ports.WebhookSender,
	subs ports.SubscriptionRepository,
	attempts ports.DeliveryAttemptLog,
	metrics ports.MetricsRecorder,
	clock clockwork.Clock,
	config DeliveryConfig,
	logger *zap.SugaredLogger,
) *DeliveryEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryEngine{
		sender:   sender,
		subs:     subs,
		attempts: attempts,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		config:   config,
		backoff: retry.Config{
			Enabled:      true,
			MaxAttempts:  config.MaxRetries,
			InitialDelay: config.RetryBaseDelay,
			MaxDelay:     config.RetryMaxDelay,
			Multiplier:   2.0,
		},
		baseCtx: ctx,
		cancel:  cancel,
		timers:  make(map[*delivery]clockwork.Timer),
	}
}

// Publish dispatches env to every active subscription of its app that listens
// for the event type. Results are logged and recorded, not returned.
func (e *DeliveryEngine) Publish(ctx context.Context, env domain.Envelope) (int, error) {
	if env.AppID == "" {
		return 0, nil
	}

	subs, err := e.subs.ListActive(ctx, env.AppID, env.EventType)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions for app %s: %w", env.AppID, err)
	}

	started := 0
	for _, sub := range subs {
		if !sub.Matches(env.EventType) {
			continue
		}
		results := e.Dispatch(ctx, sub, env)
		started++
		go e.drain(sub, env, results)
	}
	return started, nil
}

func (e *DeliveryEngine) drain(sub domain.WebhookSubscription, env domain.Envelope, results <-chan domain.DeliveryResult) {
	res, ok := <-results
	if !ok {
		return
	}
	if res.Delivered() {
		e.logger.Debugw("Webhook delivered",
			"subscription_id", sub.ID,
			"event_id", env.EventID,
			"attempts", res.Attempts,
		)
		return
	}
	e.logger.Warnw("Webhook delivery failed",
		"subscription_id", sub.ID,
		"event_id", env.EventID,
		"attempts", res.Attempts,
		"http_status", res.HTTPStatus,
		"error", res.Error,
	)
}

// Dispatch starts delivery of env to sub. The returned channel receives
// exactly one terminal result and is then closed. The request context only
// contributes its trace span; delivery outlives the caller.
func (e *DeliveryEngine) Dispatch(ctx context.Context, sub domain.WebhookSubscription, env domain.Envelope) <-chan domain.DeliveryResult {
	out := make(chan domain.DeliveryResult, 1)

	payload, err := env.Canonical()
	if err != nil {
		out <- e.terminal(sub, env, domain.OutcomePermanentFailure, 0, 0, fmt.Sprintf("encode payload: %v", err))
		close(out)
		return out
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		out <- e.terminal(sub, env, domain.OutcomePermanentFailure, 0, 0, ErrEngineClosed.Error())
		close(out)
		return out
	}
	e.wg.Add(1)
	e.mu.Unlock()

	d := &delivery{
		ctx:     trace.ContextWithSpan(e.baseCtx, trace.SpanFromContext(ctx)),
		sub:     sub,
		env:     env,
		payload: payload,
		headers: e.headers(sub, env, payload),
		out:     out,
	}
	go e.attempt(d, 1)
	return out
}

func (e *DeliveryEngine) headers(sub domain.WebhookSubscription, env domain.Envelope, payload []byte) map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   e.config.UserAgent,
		"X-Event-Type": string(env.EventType),
		"X-Event-Id":   env.EventID,
		"X-Timestamp":  strconv.FormatInt(env.Timestamp.Unix(), 10),
	}
	if sub.Secret != "" {
		h[signature.HeaderName] = signature.Header(sub.Secret, payload)
	}
	return h
}

func (e *DeliveryEngine) attempt(d *delivery, n int) {
	d.tries = n
	status, sendErr := e.send(d, n)
	outcome := classify(status, sendErr)
	errMsg := ""
	if sendErr != nil {
		errMsg = utils.TruncateString(sendErr.Error(), maxErrorLen)
	} else if outcome != domain.OutcomeSuccess {
		errMsg = fmt.Sprintf("unexpected status %d", status)
	}

	exhausted := outcome == domain.OutcomeTransientFailure && n >= e.config.MaxRetries
	stopping := outcome == domain.OutcomeTransientFailure && d.ctx.Err() != nil
	recorded := outcome
	if exhausted {
		recorded = domain.OutcomePermanentFailure
		errMsg = fmt.Sprintf("%s: %s", domain.ReasonMaxRetriesExceeded, errMsg)
	}
	e.record(d, n, recorded, status, errMsg)

	switch {
	case outcome != domain.OutcomeTransientFailure:
		e.finish(d, e.terminal(d.sub, d.env, outcome, n, status, errMsg))
	case exhausted:
		e.finish(d, e.terminal(d.sub, d.env, domain.OutcomePermanentFailure, n, status, domain.ReasonMaxRetriesExceeded))
	case stopping:
		e.finish(d, e.terminal(d.sub, d.env, domain.OutcomeTransientFailure, n, status, ErrEngineClosed.Error()))
	default:
		e.schedule(d, n)
	}
}

func (e *DeliveryEngine) send(d *delivery, n int) (int, error) {
	ctx, span := tracing.TraceWebhookAttempt(d.ctx, string(d.sub.ID), d.env.EventID, n)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	start := e.clock.Now()
	status, err := e.sender.Send(ctx, ports.WebhookRequest{
		URL:     d.sub.URL,
		Headers: d.headers,
		Body:    d.payload,
	})
	elapsed := e.clock.Since(start)

	e.metrics.RecordDeliveryAttempt(classify(status, err), elapsed)
	tracing.AddSpanAttributes(ctx, tracing.HTTPStatusKey.Int(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return status, err
}

// classify maps one attempt to an outcome: 2xx succeeds, other statuses
// below 500 are permanent, everything else is worth retrying.
func classify(status int, err error) domain.DeliveryOutcome {
	switch {
	case err != nil:
		return domain.OutcomeTransientFailure
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return domain.OutcomeSuccess
	case status < http.StatusInternalServerError:
		return domain.OutcomePermanentFailure
	default:
		return domain.OutcomeTransientFailure
	}
}

func (e *DeliveryEngine) record(d *delivery, n int, outcome domain.DeliveryOutcome, status int, errMsg string) {
	row := &domain.DeliveryAttempt{
		ID:             utils.NewAttemptID(),
		SubscriptionID: d.sub.ID,
		EventID:        d.env.EventID,
		EventType:      d.env.EventType,
		Payload:        d.payload,
		Attempt:        n,
		Outcome:        outcome,
		HTTPStatus:     status,
		Error:          errMsg,
		Timestamp:      e.clock.Now().UTC(),
	}

	// The audit row is written even when shutdown has cancelled the base context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), e.config.RequestTimeout)
	defer cancel()
	if err := e.attempts.Append(ctx, row); err != nil {
		e.logger.Errorw("Failed to append delivery attempt",
			"subscription_id", d.sub.ID,
			"event_id", d.env.EventID,
			"attempt", n,
			"error", err,
		)
	}
}

func (e *DeliveryEngine) schedule(d *delivery, n int) {
	delay := retry.Backoff(e.backoff, n)

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		e.finish(d, e.terminal(d.sub, d.env, domain.OutcomeTransientFailure, n, 0, ErrEngineClosed.Error()))
		return
	}
	e.timers[d] = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, d)
		e.mu.Unlock()
		e.attempt(d, n+1)
	})
	e.mu.Unlock()

	e.logger.Debugw("Webhook retry scheduled",
		"subscription_id", d.sub.ID,
		"event_id", d.env.EventID,
		"next_attempt", n+1,
		"delay", delay,
	)
}

func (e *DeliveryEngine) finish(d *delivery, res domain.DeliveryResult) {
	e.metrics.RecordDeliveryResult(res.Outcome)
	d.out <- res
	close(d.out)
	e.wg.Done()
}

func (e *DeliveryEngine) terminal(sub domain.WebhookSubscription, env domain.Envelope, outcome domain.DeliveryOutcome, attempts, status int, errMsg string) domain.DeliveryResult {
	return domain.DeliveryResult{
		SubscriptionID: sub.ID,
		EventID:        env.EventID,
		Outcome:        outcome,
		Attempts:       attempts,
		HTTPStatus:     status,
		Error:          errMsg,
	}
}

// Shutdown stops accepting dispatches, cancels in-flight attempts and pending
// retries, and waits until every chain has reported its result or ctx ends.
func (e *DeliveryEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	pending := make([]*delivery, 0, len(e.timers))
	for d, t := range e.timers {
		if t.Stop() {
			pending = append(pending, d)
		}
		delete(e.timers, d)
	}
	e.mu.Unlock()

	e.cancel()
	for _, d := range pending {
		e.finish(d, e.terminal(d.sub, d.env, domain.OutcomeTransientFailure, d.tries, 0, ErrEngineClosed.Error()))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
