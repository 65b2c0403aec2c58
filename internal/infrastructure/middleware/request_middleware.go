package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"streamgate/pkg/logger"
	"streamgate/pkg/utils"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates or assigns a request id and stores it, with
// the active trace id, in the request context for log enrichment.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = utils.NewRequestID()
		}
		ctx := logger.WithRequestID(c.Request.Context(), id)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// AccessLogMiddleware logs each request and feeds the HTTP metrics.
func AccessLogMiddleware(log *logger.ContextLogger, recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if recorder != nil {
			recorder.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), elapsed)
		}
		if log != nil {
			log.LogRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), elapsed.Milliseconds())
		}
	}
}
