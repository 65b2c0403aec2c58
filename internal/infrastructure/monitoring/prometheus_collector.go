package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

type PrometheusCollector struct {
	registry *prometheus.Registry

	authDecisions     *prometheus.CounterVec
	guardRejections   *prometheus.CounterVec
	guardStoreErrors  *prometheus.CounterVec
	deliveryAttempts  *prometheus.CounterVec
	deliveryDuration  prometheus.Histogram
	deliveryResults   *prometheus.CounterVec
	notifierFailures  *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionsStarted   prometheus.Counter
	sessionDuration   prometheus.Histogram
	redisCommands     *prometheus.CounterVec
	redisLatency      *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	realtimeClients   prometheus.Gauge
	realtimeBroadcast prometheus.Counter
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers every metric on a dedicated registry so
// tests and multiple binaries never collide on the global one.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		authDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_auth_decisions_total",
			Help: "Ingest authorization decisions by action and outcome",
		}, []string{"action", "outcome"}),

		guardRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_guard_rejections_total",
			Help: "Requests rejected by the rate guard",
		}, []string{"scope"}),

		guardStoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_guard_store_errors_total",
			Help: "Rate store failures and the policy applied",
		}, []string{"policy"}),

		deliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_webhook_attempts_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"outcome"}),

		deliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamgate_webhook_attempt_duration_seconds",
			Help:    "Duration of single webhook POSTs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		deliveryResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_webhook_results_total",
			Help: "Terminal webhook delivery results by outcome",
		}, []string{"outcome"}),

		notifierFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_notifier_failures_total",
			Help: "Event routing failures by sink",
		}, []string{"sink"}),

		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_sessions_active",
			Help: "Live sessions started by this instance and not yet ended",
		}),

		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_sessions_started_total",
			Help: "Publish sessions started",
		}),

		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamgate_session_duration_seconds",
			Help:    "Length of ended publish sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),

		redisCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_redis_commands_total",
			Help: "Redis commands by operation and status",
		}, []string{"operation", "status"}),

		redisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_redis_command_duration_seconds",
			Help:    "Redis command latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"operation"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		realtimeClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_realtime_clients",
			Help: "Connected WebSocket event clients",
		}),

		realtimeBroadcast: f.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_realtime_messages_total",
			Help: "Events fanned out to WebSocket clients",
		}),
	}
}

func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusCollector) RecordAuthDecision(action, outcome string) {
	p.authDecisions.WithLabelValues(action, outcome).Inc()
}

func (p *PrometheusCollector) RecordGuardRejection(scope domain.RateScope) {
	p.guardRejections.WithLabelValues(string(scope)).Inc()
}

func (p *PrometheusCollector) RecordGuardStoreError(failOpen bool) {
	policy := "closed"
	if failOpen {
		policy = "open"
	}
	p.guardStoreErrors.WithLabelValues(policy).Inc()
}

func (p *PrometheusCollector) RecordDeliveryAttempt(outcome domain.DeliveryOutcome, duration time.Duration) {
	p.deliveryAttempts.WithLabelValues(string(outcome)).Inc()
	p.deliveryDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordDeliveryResult(outcome domain.DeliveryOutcome) {
	p.deliveryResults.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusCollector) RecordNotifierFailure(sink string) {
	p.notifierFailures.WithLabelValues(sink).Inc()
}

func (p *PrometheusCollector) RecordSessionStarted() {
	p.sessionsStarted.Inc()
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) RecordSessionEnded(duration time.Duration) {
	p.sessionsActive.Dec()
	p.sessionDuration.Observe(duration.Seconds())
}

// ObserveRedisCommand satisfies the Redis client metrics hook.
func (p *PrometheusCollector) ObserveRedisCommand(operation, status string, duration time.Duration) {
	p.redisCommands.WithLabelValues(operation, status).Inc()
	p.redisLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RealtimeClientConnected() {
	p.realtimeClients.Inc()
}

func (p *PrometheusCollector) RealtimeClientDisconnected() {
	p.realtimeClients.Dec()
}

func (p *PrometheusCollector) RecordRealtimeBroadcast(clients int) {
	p.realtimeBroadcast.Add(float64(clients))
}
