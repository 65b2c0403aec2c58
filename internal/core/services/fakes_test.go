package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

type sentRequest struct {
	req ports.WebhookRequest
	at  time.Time
}

// scriptedSender answers each URL with the next scripted status. An entry of
// -1 simulates a transport error; an exhausted script keeps returning 200.
type scriptedSender struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	scripts map[string][]int
	sent    []sentRequest
}

func newScriptedSender(clock clockwork.Clock) *scriptedSender {
	return &scriptedSender{clock: clock, scripts: make(map[string][]int)}
}

func (s *scriptedSender) script(url string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[url] = statuses
}

func (s *scriptedSender) Send(_ context.Context, req ports.WebhookRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, sentRequest{req: req, at: s.clock.Now()})
	script := s.scripts[req.URL]
	if len(script) == 0 {
		return 200, nil
	}
	status := script[0]
	s.scripts[req.URL] = script[1:]
	if status < 0 {
		return 0, errors.New("connection refused")
	}
	return status, nil
}

func (s *scriptedSender) requests() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.sent...)
}

func (s *scriptedSender) count(url string) int {
	n := 0
	for _, r := range s.requests() {
		if r.req.URL == url {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (n *recordingNotifier) Notify(env domain.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envs = append(n.envs, env)
}

func (n *recordingNotifier) events() []domain.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Envelope(nil), n.envs...)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) ValidateStreamKey(ctx context.Context, key domain.StreamKey, app, clientIP string) (domain.ValidationResult, error) {
	args := m.Called(ctx, key, app, clientIP)
	return args.Get(0).(domain.ValidationResult), args.Error(1)
}

type slowValidator struct{}

func (slowValidator) ValidateStreamKey(ctx context.Context, _ domain.StreamKey, _, _ string) (domain.ValidationResult, error) {
	<-ctx.Done()
	return domain.ValidationResult{}, ctx.Err()
}

type failingRateStore struct{}

var errStoreDown = errors.New("redis: connection refused")

func (failingRateStore) Hit(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}
func (failingRateStore) Peek(context.Context, string) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}
func (failingRateStore) BlockTTL(context.Context, string) (time.Duration, error) {
	return 0, errStoreDown
}
func (failingRateStore) Block(context.Context, string, time.Duration) error { return errStoreDown }

type recordingSink struct {
	mu   sync.Mutex
	envs []domain.Envelope
	err  error
}

func (s *recordingSink) Broadcast(_ context.Context, env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	envs  []domain.Envelope
	err   error
	delay time.Duration
}

func (d *recordingDispatcher) Dispatch(context.Context, domain.WebhookSubscription, domain.Envelope) <-chan domain.DeliveryResult {
	ch := make(chan domain.DeliveryResult)
	close(ch)
	return ch
}

func (d *recordingDispatcher) Publish(_ context.Context, env domain.Envelope) (int, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs = append(d.envs, env)
	return 1, d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envs)
}

type countingSubscriptions struct {
	mu    sync.Mutex
	calls int
	subs  []domain.WebhookSubscription
	delay time.Duration
}

func (c *countingSubscriptions) ListActive(_ context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	time.Sleep(c.delay)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	var out []domain.WebhookSubscription
	for _, s := range c.subs {
		if s.AppID == appID && s.Matches(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *countingSubscriptions) GetByID(_ context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	for _, s := range c.subs {
		if s.ID == id {
			sub := s
			return &sub, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (c *countingSubscriptions) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
