package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"
	apperrors "streamgate/pkg/errors"
	"streamgate/pkg/logger"
)

type storeDownGuard struct{}

func (storeDownGuard) Evaluate(context.Context, ports.GuardRequest) domain.GuardDecision {
	return domain.GuardDecision{StoreError: domain.ErrStoreUnavailable}
}
func (storeDownGuard) IPAllowed(string) bool { return true }
func (storeDownGuard) Usage(context.Context, string, string) ([]domain.RateWindow, error) {
	return nil, nil
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGuardMiddleware_FailClosedStoreError(t *testing.T) {
	router := newGuardRouter(storeDownGuard{})
	w := publish(router, "10.0.0.1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.NewConflictError("stream is already live"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	router.GET("/blocked", func(c *gin.Context) {
		_ = c.Error(apperrors.NewBlockedError(1500 * time.Millisecond))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"CONFLICT","message":"stream is already live"}`, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")

	w = serve(router, httptest.NewRequest(http.MethodGet, "/blocked", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, logger.RequestID(c.Request.Context()))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/id", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.True(t, strings.HasPrefix(generated, "req_"))
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(RequestIDHeader, "edge-123")
	w = serve(router, req)
	assert.Equal(t, "edge-123", w.Body.String())
}

type httpRecorderStub struct {
	routes []string
}

func (r *httpRecorderStub) RecordHTTPRequest(_ string, route string, _ int, _ time.Duration) {
	r.routes = append(r.routes, route)
}

func TestAccessLogMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &httpRecorderStub{}
	router := gin.New()
	router.Use(AccessLogMiddleware(logger.NewContextLogger(zap.NewNop().Sugar()), rec))
	router.GET("/streams/:key", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, httptest.NewRequest(http.MethodGet, "/streams/abc", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, []string{"/streams/:key", "unmatched"}, rec.routes)
}

func TestOperatorAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("secret", "streamgate")
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/api", OperatorAuthMiddleware(auth, "operator"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubject))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := auth.GenerateToken("someone", "viewer", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, serve(router, req).Code)

	op, err := auth.GenerateToken("ops@example.com", "operator", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+op)
	w = serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@example.com", w.Body.String())
}
