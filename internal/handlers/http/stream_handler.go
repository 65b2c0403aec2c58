package http

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/errors"
	"streamgate/pkg/validation"
)

// StreamHandler is the operator read API over live sessions and guard state.
type StreamHandler struct {
	sessions ports.SessionRegistry
	stats    ports.StatsRepository
	guard    ports.RateGuard
}

func NewStreamHandler(sessions ports.SessionRegistry, stats ports.StatsRepository, guard ports.RateGuard) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		stats:    stats,
		guard:    guard,
	}
}

func (h *StreamHandler) SetupRoutes(api gin.IRouter) {
	api.GET("/streams/active", h.ListActive)
	api.GET("/streams/:key", h.GetStream)
	api.GET("/streams/:key/stats", h.GetStats)
	api.GET("/ratelimit/:identifier", h.GetRateLimit)
}

func (h *StreamHandler) ListActive(c *gin.Context) {
	sessions, err := h.sessions.ListLive(c.Request.Context())
	if err != nil {
		_ = c.Error(errors.NewStoreUnavailableError(err, "session store"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"streams": sessions,
		"count":   len(sessions),
	})
}

func (h *StreamHandler) GetStream(c *gin.Context) {
	key, ok := streamKeyParam(c)
	if !ok {
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), key)
	if err != nil {
		if stderrors.Is(err, domain.ErrSessionNotFound) {
			_ = c.Error(errors.NewNotFoundError("stream session"))
			return
		}
		_ = c.Error(errors.NewStoreUnavailableError(err, "session store"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": session})
}

func (h *StreamHandler) GetStats(c *gin.Context) {
	key, ok := streamKeyParam(c)
	if !ok {
		return
	}

	stats, err := h.stats.Get(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(errors.NewStoreUnavailableError(err, "stats store"))
		return
	}
	live, err := h.sessions.IsLive(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(errors.NewStoreUnavailableError(err, "session store"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
		"live":  live,
	})
}

func (h *StreamHandler) GetRateLimit(c *gin.Context) {
	identifier := c.Param("identifier")
	if err := validation.ValidateStringLength(identifier, 1, 128, "identifier"); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	windows, err := h.guard.Usage(c.Request.Context(), identifier, c.Query("endpoint"))
	if err != nil {
		_ = c.Error(errors.NewStoreUnavailableError(err, "rate store"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identifier": identifier,
		"windows":    windows,
	})
}

func streamKeyParam(c *gin.Context) (domain.StreamKey, bool) {
	key := c.Param("key")
	if err := validation.ValidateStreamKey(key); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.StreamKey(key), true
}
