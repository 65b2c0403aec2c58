package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"
	"streamgate/internal/infrastructure/middleware"
	"streamgate/pkg/logger"
)

// RouterConfig carries everything the gateway router mounts. Nil optional
// fields disable the matching surface.
type RouterConfig struct {
	Ingest   *IngestHandler
	Streams  *StreamHandler
	Webhooks *WebhookHandler
	Health   *HealthHandler

	Auth         services.AuthService
	OperatorRole string

	// Guard is nil when rate limiting is disabled.
	Guard         ports.RateGuard
	MaxConcurrent int

	// Events serves the WebSocket feed when non-nil and Auth is set.
	Events  http.HandlerFunc
	Metrics http.Handler

	Recorder middleware.HTTPRecorder
	Logger   *zap.SugaredLogger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(cfg.Logger),
		middleware.TracingMiddleware(),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(cfg.Logger), cfg.Recorder),
		middleware.ErrorHandlerMiddleware(cfg.Logger),
	)

	// One limiter shared by every admitting endpoint.
	var limit gin.HandlerFunc
	if cfg.MaxConcurrent > 0 {
		limit = middleware.ConcurrencyLimitMiddleware(cfg.MaxConcurrent)
	}
	admit := func(endpoint string) gin.HandlersChain {
		var chain gin.HandlersChain
		if limit != nil {
			chain = append(chain, limit)
		}
		if cfg.Guard != nil {
			chain = append(chain, middleware.GuardMiddleware(cfg.Guard, endpoint, cfg.Logger))
		}
		return chain
	}

	if cfg.Health != nil {
		cfg.Health.SetupRoutes(router)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.Ingest != nil {
		cfg.Ingest.SetupRoutes(router, admit)
	}

	if cfg.Auth != nil {
		operatorAuth := middleware.OperatorAuthMiddleware(cfg.Auth, cfg.OperatorRole)
		// The event feed is only ever mounted behind operator auth.
		if cfg.Events != nil {
			router.GET("/ws/events", operatorAuth, gin.WrapF(cfg.Events))
		}

		api := router.Group("/api/v1")
		api.Use(operatorAuth)
		if cfg.Streams != nil {
			cfg.Streams.SetupRoutes(api)
		}
		if cfg.Webhooks != nil {
			cfg.Webhooks.SetupRoutes(api)
		}
	}

	return router
}
