package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamgate/internal/core/ports"
	apperrors "streamgate/pkg/errors"
)

const APIKeyHeader = "X-API-Key"

// GuardMiddleware runs the allow-list and the rate guard in front of a
// route. endpoint names the counter bucket; empty uses the route path.
func GuardMiddleware(guard ports.RateGuard, endpoint string, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !guard.IPAllowed(ip) {
			logger.Warnw("Request from address outside allow-list", "client_ip", ip, "path", c.Request.URL.Path)
			_ = c.Error(apperrors.NewForbiddenError("address not allowed"))
			c.Abort()
			return
		}

		name := endpoint
		if name == "" {
			name = c.FullPath()
		}
		decision := guard.Evaluate(c.Request.Context(), ports.GuardRequest{
			ClientIP: ip,
			APIKey:   c.GetHeader(APIKeyHeader),
			Endpoint: name,
		})

		switch {
		case decision.Allowed:
			c.Next()
		case decision.Blocked:
			_ = c.Error(apperrors.NewBlockedError(decision.RetryAfter))
			c.Abort()
		case decision.StoreError != nil:
			_ = c.Error(apperrors.NewStoreUnavailableError(decision.StoreError, "rate limiting"))
			c.Abort()
		default:
			_ = c.Error(apperrors.NewRateLimitError(decision.RetryAfter).WithContext("scope", string(decision.Scope)))
			c.Abort()
		}
	}
}

// ConcurrencyLimitMiddleware sheds load once max requests are in flight.
func ConcurrencyLimitMiddleware(max int) gin.HandlerFunc {
	if max <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := make(chan struct{}, max)
	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			_ = c.Error(apperrors.NewServiceUnavailableError("too many concurrent requests"))
			c.Abort()
		}
	}
}
