package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
)

func TestPrometheusCollector_Counters(t *testing.T) {
	p := NewPrometheusCollector()

	p.RecordAuthDecision("publish", "allowed")
	p.RecordAuthDecision("publish", "allowed")
	p.RecordAuthDecision("publish", "conflict")
	p.RecordGuardRejection(domain.ScopeBurst)
	p.RecordGuardStoreError(true)
	p.RecordDeliveryAttempt(domain.OutcomeTransientFailure, 120*time.Millisecond)
	p.RecordDeliveryResult(domain.OutcomePermanentFailure)
	p.RecordSessionStarted()
	p.RecordSessionStarted()
	p.RecordSessionEnded(time.Minute)
	p.ObserveRedisCommand("evalsha", "ok", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.authDecisions.WithLabelValues("publish", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.authDecisions.WithLabelValues("publish", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.guardRejections.WithLabelValues("burst")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.guardStoreErrors.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.deliveryAttempts.WithLabelValues("transient_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.deliveryResults.WithLabelValues("permanent_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.sessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.redisCommands.WithLabelValues("evalsha", "ok")))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	p := NewPrometheusCollector()
	p.RecordNotifierFailure("realtime")

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `streamgate_notifier_failures_total{sink="realtime"} 1`))
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddCheck("ok", func(context.Context) error { return nil }, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(context.Context) error { return errors.New("dial tcp: refused") }, 0, time.Second)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 0, 20*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["ok"])
	assert.Equal(t, "dial tcp: refused", status.Checks["broken"])
	assert.Equal(t, "timeout", status.Checks["slow"])
	assert.False(t, h.IsReady(context.Background()))
}
