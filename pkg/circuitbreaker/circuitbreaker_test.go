package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestError = errors.New("test error")

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTestError })
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := New(DefaultConfig())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())

	err := cb.Execute(context.Background(), func() error { return errTestError })
	assert.ErrorIs(t, err, errTestError)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewWithClock(testConfig(), clock)

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewWithClock(testConfig(), clock)
	failN(cb, 2)

	clock.Advance(31 * time.Second)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewWithClock(testConfig(), clock)
	failN(cb, 2)
	clock.Advance(31 * time.Second)

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	cfg.MaxRequestsHalfOpen = 1
	cb := NewWithClock(cfg, clock)
	failN(cb, 2)
	clock.Advance(31 * time.Second)

	require.True(t, cb.allowRequest())
	assert.False(t, cb.allowRequest())
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(DefaultConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewWithClock(testConfig(), clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			cancel()
			return context.Canceled
		})
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestOnStateChange(t *testing.T) {
	cb := NewWithClock(testConfig(), clockwork.NewFakeClock())
	changes := make(chan State, 4)
	cb.OnStateChange(func(_, to State) { changes <- to })

	failN(cb, 2)

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
