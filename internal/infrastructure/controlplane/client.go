// Package controlplane talks to the account service that owns stream keys and
// webhook subscriptions.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/circuitbreaker"
	"streamgate/pkg/tracing"
)

const maxResponseBytes = 1 << 20

type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	Breaker        circuitbreaker.Config
}

// Client implements stream-key validation and subscription lookup over HTTP.
// Both share one circuit breaker so that a down control plane fails fast.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewClient(opts Options, logger *zap.SugaredLogger) *Client {
	breaker := circuitbreaker.New(opts.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("control plane circuit breaker changed state", "from", from.String(), "to", to.String())
	})
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		breaker: breaker,
		logger:  logger,
	}
}

var (
	_ ports.StreamValidator        = (*Client)(nil)
	_ ports.SubscriptionRepository = (*Client)(nil)
)

type validateRequest struct {
	StreamKey string `json:"stream_key"`
	App       string `json:"app,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	StreamID string `json:"stream_id"`
	AppID    string `json:"app_id"`
}

// ValidateStreamKey returns Valid=false for keys the control plane rejects
// (4xx) and an error wrapping domain.ErrUpstreamUnavailable when it cannot
// answer. It opens no span of its own; request timing is added to the
// caller's validation span.
func (c *Client) ValidateStreamKey(ctx context.Context, key domain.StreamKey, app, clientIP string) (domain.ValidationResult, error) {
	body, err := json.Marshal(validateRequest{StreamKey: string(key), App: app, ClientIP: clientIP})
	if err != nil {
		return domain.ValidationResult{}, err
	}

	var resp validateResponse
	status, err := c.do(ctx, http.MethodPost, "/streams/validate", body, &resp)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	if status != http.StatusOK {
		return domain.ValidationResult{Valid: false}, nil
	}
	return domain.ValidationResult{
		Valid:    resp.Valid,
		StreamID: domain.StreamID(resp.StreamID),
		AppID:    domain.AppID(resp.AppID),
	}, nil
}

type subscriptionDTO struct {
	ID     string   `json:"id"`
	AppID  string   `json:"app_id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
	Active bool     `json:"active"`
}

func (d subscriptionDTO) toDomain() domain.WebhookSubscription {
	sub := domain.WebhookSubscription{
		ID:     domain.SubscriptionID(d.ID),
		AppID:  domain.AppID(d.AppID),
		URL:    d.URL,
		Secret: d.Secret,
		Active: d.Active,
	}
	for _, e := range d.Events {
		sub.Events = append(sub.Events, domain.EventType(e))
	}
	return sub
}

func (c *Client) ListActive(ctx context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	path := "/apps/" + url.PathEscape(string(appID)) + "/webhooks?event=" + url.QueryEscape(string(eventType))

	var dtos []subscriptionDTO
	status, err := c.do(ctx, http.MethodGet, path, nil, &dtos)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list subscriptions: unexpected status %d", status)
	}

	subs := make([]domain.WebhookSubscription, 0, len(dtos))
	for _, d := range dtos {
		// The control plane filters already; re-check so a lax filter never
		// delivers to inactive or unrelated subscriptions.
		if sub := d.toDomain(); sub.AppID == appID && sub.Matches(eventType) {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (c *Client) GetByID(ctx context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error) {
	var dto subscriptionDTO
	status, err := c.do(ctx, http.MethodGet, "/webhooks/"+url.PathEscape(string(id)), nil, &dto)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrSubscriptionNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get subscription: unexpected status %d", status)
	}
	sub := dto.toDomain()
	return &sub, nil
}

// do performs one request through the breaker. 5xx responses count as
// failures; any other status is returned to the caller. out is decoded only
// on 200.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	return circuitbreaker.ExecuteWithResult(ctx, c.breaker, func() (int, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		tracing.MeasureDuration(ctx, start, "controlplane"+path)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return resp.StatusCode, fmt.Errorf("control plane returned %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusOK && out != nil {
			if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	})
}
