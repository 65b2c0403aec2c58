package services

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/utils"
)

type GuardConfig struct {
	FailOpen       bool
	StoreTimeout   time.Duration
	BurstWindow    time.Duration
	BurstThreshold int64
	BlockDuration  time.Duration
	PerMinute      int64
	PerHour        int64
	AllowedIPs     []string
}

type guardWindow struct {
	scope  domain.RateScope
	length time.Duration
	limit  int64
}

type rateGuard struct {
	store   ports.RateStore
	metrics ports.MetricsRecorder
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	config  GuardConfig
	windows []guardWindow
	allowed []netip.Prefix
}

// NewRateGuard builds the request guard. Entries of AllowedIPs may be plain
// addresses or CIDR prefixes; invalid entries are skipped with a warning.
func NewRateGuard(store ports.RateStore, metrics ports.MetricsRecorder, clock clockwork.Clock, config GuardConfig, logger *zap.SugaredLogger) ports.RateGuard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 500 * time.Millisecond
	}

	g := &rateGuard{
		store:   store,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
		config:  config,
		windows: []guardWindow{
			{scope: domain.ScopeMinute, length: time.Minute, limit: config.PerMinute},
			{scope: domain.ScopeHour, length: time.Hour, limit: config.PerHour},
		},
	}
	for _, entry := range config.AllowedIPs {
		prefix, err := parsePrefix(entry)
		if err != nil {
			logger.Warnw("Ignoring invalid allowed IP entry", "entry", entry, "error", err)
			continue
		}
		g.allowed = append(g.allowed, prefix)
	}
	return g
}

func parsePrefix(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IPAllowed reports whether ip may use the ingest endpoints. An empty
// allow-list admits everyone.
func (g *rateGuard) IPAllowed(ip string) bool {
	if len(g.allowed) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range g.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Evaluate runs block check, burst window, then the minute and hour windows,
// stopping at the first rejection.
func (g *rateGuard) Evaluate(ctx context.Context, req ports.GuardRequest) domain.GuardDecision {
	ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	ip := req.ClientIP

	blocked, err := g.store.BlockTTL(ctx, ip)
	if err != nil {
		return g.storeFailure(err)
	}
	if blocked > 0 {
		g.metrics.RecordGuardRejection(domain.ScopeBurst)
		return domain.GuardDecision{Blocked: true, Scope: domain.ScopeBurst, RetryAfter: blocked}
	}

	if g.config.BurstThreshold > 0 {
		count, _, err := g.store.Hit(ctx, burstKey(ip), g.config.BurstWindow)
		if err != nil {
			return g.storeFailure(err)
		}
		if count > g.config.BurstThreshold {
			if err := g.store.Block(ctx, ip, g.config.BlockDuration); err != nil {
				return g.storeFailure(err)
			}
			g.metrics.RecordGuardRejection(domain.ScopeBurst)
			g.logger.Warnw("Client blocked after request burst",
				"client_ip", ip,
				"count", count,
				"block_duration", g.config.BlockDuration,
			)
			return domain.GuardDecision{Blocked: true, Scope: domain.ScopeBurst, RetryAfter: g.config.BlockDuration}
		}
	}

	identifier := identifierFor(req)
	for _, w := range g.windows {
		if w.limit <= 0 {
			continue
		}
		count, remaining, err := g.store.Hit(ctx, windowKey(w.scope, identifier, req.Endpoint), w.length)
		if err != nil {
			return g.storeFailure(err)
		}
		if count > w.limit {
			g.metrics.RecordGuardRejection(w.scope)
			return domain.GuardDecision{Scope: w.scope, RetryAfter: remaining}
		}
	}

	return domain.GuardDecision{Allowed: true}
}

func (g *rateGuard) storeFailure(err error) domain.GuardDecision {
	g.metrics.RecordGuardStoreError(g.config.FailOpen)
	g.logger.Errorw("Rate store unavailable", "fail_open", g.config.FailOpen, "error", err)
	return domain.GuardDecision{
		Allowed:    g.config.FailOpen,
		StoreError: fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err),
	}
}

// Usage reports the current counters for identifier, which is either a
// client IP or an already hashed API key.
func (g *rateGuard) Usage(ctx context.Context, identifier, endpoint string) ([]domain.RateWindow, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	count, remaining, err := g.store.Peek(ctx, burstKey(identifier))
	if err != nil {
		return nil, err
	}
	burst := domain.RateWindow{
		Identifier: identifier,
		Scope:      domain.ScopeBurst,
		Count:      count,
		Limit:      g.config.BurstThreshold,
		Remaining:  remaining,
	}
	blocked, err := g.store.BlockTTL(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if blocked > 0 {
		until := g.clock.Now().Add(blocked).UTC()
		burst.BlockedUntil = &until
	}

	windows := []domain.RateWindow{burst}
	for _, w := range g.windows {
		count, remaining, err := g.store.Peek(ctx, windowKey(w.scope, identifier, endpoint))
		if err != nil {
			return nil, err
		}
		windows = append(windows, domain.RateWindow{
			Identifier: identifier,
			Scope:      w.scope,
			Endpoint:   endpoint,
			Count:      count,
			Limit:      w.limit,
			Remaining:  remaining,
		})
	}
	return windows, nil
}

// identifierFor keys counters by the hashed API key when one is presented so
// raw keys never reach the store.
func identifierFor(req ports.GuardRequest) string {
	if req.APIKey != "" {
		return utils.HashIdentifier(req.APIKey)
	}
	return req.ClientIP
}

func burstKey(ip string) string {
	return "burst:" + ip
}

func windowKey(scope domain.RateScope, identifier, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", scope, identifier, endpoint)
}
