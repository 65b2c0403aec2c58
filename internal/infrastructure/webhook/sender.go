package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"streamgate/internal/core/ports"
)

const maxDrainBytes = 64 << 10

// Sender posts webhook payloads, pacing requests per destination host so one
// busy app cannot flood a receiver.
type Sender struct {
	client *http.Client
	rate   rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSender returns a sender. A zero perHostRate disables pacing.
func NewSender(client *http.Client, perHostRate float64, burst int) *Sender {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Sender{
		client:   client,
		rate:     rate.Limit(perHostRate),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

var _ ports.WebhookSender = (*Sender)(nil)

func (s *Sender) Send(ctx context.Context, r ports.WebhookRequest) (int, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return 0, fmt.Errorf("invalid webhook url: %w", err)
	}
	if limiter := s.limiter(u.Host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("pacing wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return 0, err
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

func (s *Sender) limiter(host string) *rate.Limiter {
	if s.rate <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.rate, s.burst)
		s.limiters[host] = l
	}
	return l
}
