package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

const (
	sinkRealtime = "realtime"
	sinkWebhooks = "webhooks"
)

type NotifierConfig struct {
	Workers     int
	QueueSize   int
	SinkTimeout time.Duration
}

// Notifier routes envelopes to the real-time sink and the webhook dispatcher
// on a background worker pool. Callers never wait on either sink.
type Notifier struct {
	realtime   ports.RealtimeSink
	dispatcher ports.WebhookDispatcher
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger
	config     NotifierConfig

	queue  chan domain.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewNotifier(
	realtime ports.RealtimeSink,
	dispatcher ports.WebhookDispatcher,
	metrics ports.MetricsRecorder,
	config NotifierConfig,
	logger *zap.SugaredLogger,
) *Notifier {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		realtime:   realtime,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		queue:      make(chan domain.Envelope, config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < config.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify enqueues env. When the queue is full the envelope is handed to a
// dedicated goroutine so the caller still returns immediately.
func (n *Notifier) Notify(env domain.Envelope) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warnw("Notifier closed, dropping event",
			"event_id", env.EventID,
			"event_type", env.EventType,
		)
		n.metrics.RecordNotifierFailure("closed")
		return
	}

	select {
	case n.queue <- env:
	default:
		n.logger.Warnw("Notifier queue full, routing event out of band",
			"event_id", env.EventID,
			"queue_size", n.config.QueueSize,
		)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.route(env)
		}()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for env := range n.queue {
		n.route(env)
	}
}

func (n *Notifier) route(env domain.Envelope) {
	ctx, cancel := context.WithTimeout(n.ctx, n.config.SinkTimeout)
	defer cancel()

	var g errgroup.Group
	if n.realtime != nil {
		g.Go(func() error {
			if err := n.realtime.Broadcast(ctx, env); err != nil {
				n.metrics.RecordNotifierFailure(sinkRealtime)
				n.logger.Warnw("Realtime broadcast failed",
					"event_id", env.EventID,
					"event_type", env.EventType,
					"error", err,
				)
			}
			return nil
		})
	}
	if n.dispatcher != nil {
		g.Go(func() error {
			count, err := n.dispatcher.Publish(ctx, env)
			if err != nil {
				n.metrics.RecordNotifierFailure(sinkWebhooks)
				n.logger.Errorw("Webhook fan-out failed",
					"event_id", env.EventID,
					"app_id", env.AppID,
					"error", err,
				)
				return nil
			}
			n.logger.Debugw("Event routed",
				"event_id", env.EventID,
				"event_type", env.EventType,
				"subscriptions", count,
			)
			return nil
		})
	}
	_ = g.Wait()
}

// Close drains queued envelopes and stops the workers.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		return ctx.Err()
	}
}
