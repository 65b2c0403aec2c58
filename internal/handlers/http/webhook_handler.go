package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/errors"
	"streamgate/pkg/utils"
	"streamgate/pkg/validation"
)

type WebhookHandler struct {
	subs       ports.SubscriptionRepository
	dispatcher ports.WebhookDispatcher
	attempts   ports.DeliveryAttemptLog
	clock      clockwork.Clock
}

func NewWebhookHandler(subs ports.SubscriptionRepository, dispatcher ports.WebhookDispatcher, attempts ports.DeliveryAttemptLog, clock clockwork.Clock) *WebhookHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WebhookHandler{
		subs:       subs,
		dispatcher: dispatcher,
		attempts:   attempts,
		clock:      clock,
	}
}

func (h *WebhookHandler) SetupRoutes(api gin.IRouter) {
	api.POST("/webhooks/test", h.TestDelivery)
	api.GET("/webhooks/:id/attempts", h.ListAttempts)
}

type testDeliveryRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
}

// TestDelivery sends a webhook.test envelope to one subscription and waits
// for the terminal result, retries included, while the request is alive.
func (h *WebhookHandler) TestDelivery(c *gin.Context) {
	var req testDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("subscription_id is required"))
		return
	}
	if err := validation.ValidateIdentifier(req.SubscriptionID, "subscription_id"); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	sub, err := h.subs.GetByID(ctx, domain.SubscriptionID(req.SubscriptionID))
	if err != nil {
		if stderrors.Is(err, domain.ErrSubscriptionNotFound) {
			_ = c.Error(errors.NewNotFoundError("subscription"))
			return
		}
		_ = c.Error(errors.NewUpstreamUnavailableError(err))
		return
	}

	env := domain.Envelope{
		EventID:   utils.NewEventID(),
		EventType: domain.EventWebhookTest,
		AppID:     sub.AppID,
		Timestamp: h.clock.Now().UTC(),
		Data:      map[string]string{"subscription_id": string(sub.ID)},
	}

	select {
	case res := <-h.dispatcher.Dispatch(ctx, *sub, env):
		if res.Delivered() {
			c.JSON(http.StatusOK, gin.H{"result": res})
			return
		}
		_ = c.Error(errors.NewDeliveryError(res.Outcome == domain.OutcomePermanentFailure, res.Error).
			WithContext("event_id", res.EventID).
			WithContext("attempts", res.Attempts).
			WithContext("http_status", res.HTTPStatus))
	case <-ctx.Done():
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "pending",
			"event_id": env.EventID,
		})
	}
}

func (h *WebhookHandler) ListAttempts(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateIdentifier(id, "subscription id"); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			_ = c.Error(errors.NewInvalidInputError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	attempts, err := h.attempts.ListBySubscription(c.Request.Context(), domain.SubscriptionID(id), limit)
	if err != nil {
		_ = c.Error(errors.NewStoreUnavailableError(err, "attempt log"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscription_id": id,
		"attempts":        attempts,
	})
}
