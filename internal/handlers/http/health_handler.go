package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"streamgate/internal/infrastructure/monitoring"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	service   string
	version   string
	startedAt time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, service, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		service:   service,
		version:   version,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/", h.Describe)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *HealthHandler) Describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"endpoints": gin.H{
			"ingest":   []string{"/auth/publish", "/auth/publish_done", "/auth/play", "/auth/play_done"},
			"operator": "/api/v1",
			"events":   "/ws/events",
			"metrics":  "/metrics",
		},
	})
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": monitoring.StatusHealthy,
		"checks": h.checker.LastResults(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
