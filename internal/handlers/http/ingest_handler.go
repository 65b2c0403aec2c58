package http

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/errors"
	"streamgate/pkg/utils"
	"streamgate/pkg/validation"
)

// IngestHandler serves the form-encoded callbacks ingest edges make on
// publish and play transitions.
type IngestHandler struct {
	gateway ports.IngestGateway
}

func NewIngestHandler(gateway ports.IngestGateway) *IngestHandler {
	return &IngestHandler{gateway: gateway}
}

// SetupRoutes registers the callbacks. admit returns the load-shedding and
// rate-limiting chain for the endpoints that start sessions; the teardown and
// update callbacks must always reach the registry.
func (h *IngestHandler) SetupRoutes(router gin.IRouter, admit func(endpoint string) gin.HandlersChain) {
	auth := router.Group("/auth")
	{
		auth.POST("/publish", append(admit("publish"), h.Publish)...)
		auth.POST("/publish_done", h.PublishDone)
		auth.POST("/play", append(admit("play"), h.Play)...)
		auth.POST("/play_done", h.PlayDone)
		auth.POST("/update", h.Update)
	}
}

func (h *IngestHandler) Publish(c *gin.Context) {
	key := domain.ParseStreamKey(c.PostForm("name"))
	if err := validation.ValidateStreamKey(string(key)); err != nil {
		_ = c.Error(errors.NewAuthDeniedError(err.Error()))
		return
	}

	session, err := h.gateway.AuthorizePublish(c.Request.Context(), ports.PublishRequest{
		StreamKey: key,
		ClientIP:  edgeClientIP(c),
		App:       utils.SanitizeString(c.PostForm("app")),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "allowed",
		"stream_id": session.StreamID,
		"app_id":    session.AppID,
	})
}

func (h *IngestHandler) PublishDone(c *gin.Context) {
	if key, ok := doneKey(c); ok {
		h.gateway.PublishDone(c.Request.Context(), key)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *IngestHandler) Play(c *gin.Context) {
	key := domain.ParseStreamKey(c.PostForm("name"))
	if err := validation.ValidateStreamKey(string(key)); err != nil {
		_ = c.Error(errors.NewAuthDeniedError(err.Error()))
		return
	}

	err := h.gateway.AuthorizePlay(c.Request.Context(), ports.PlayRequest{
		StreamKey: key,
		ClientIP:  edgeClientIP(c),
		Token:     c.PostForm("token"),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "allowed"})
}

func (h *IngestHandler) PlayDone(c *gin.Context) {
	if key, ok := doneKey(c); ok {
		h.gateway.PlayDone(c.Request.Context(), key)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Update handles the edge's periodic keepalive (call=update_publish or
// update_play). It keeps the session and its viewer counter from expiring
// while the edge still reports them. Always 200.
func (h *IngestHandler) Update(c *gin.Context) {
	if key, ok := doneKey(c); ok {
		h.gateway.Refresh(c.Request.Context(), key)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// doneKey parses the name field of a callback that must never be refused.
// Malformed keys are acknowledged without touching the registry.
func doneKey(c *gin.Context) (domain.StreamKey, bool) {
	key := domain.ParseStreamKey(c.PostForm("name"))
	if validation.ValidateStreamKey(string(key)) != nil {
		return "", false
	}
	return key, true
}

// edgeClientIP prefers the publisher address reported by the edge over the
// edge's own address.
func edgeClientIP(c *gin.Context) string {
	if addr := c.PostForm("addr"); addr != "" {
		if ip := net.ParseIP(addr); ip != nil {
			return ip.String()
		}
	}
	return c.ClientIP()
}
