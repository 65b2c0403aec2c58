package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamgate/pkg/errors"
	"streamgate/pkg/logger"
	"streamgate/pkg/utils"
)

// ErrorHandlerMiddleware renders the last error attached to the context.
// AppErrors keep their status; anything else becomes a 500.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		reqLog := log.With("request_id", logger.RequestID(c.Request.Context()))

		appErr := errors.GetAppError(err)
		if appErr == nil {
			appErr = errors.NewInternalError("Internal server error")
			appErr.Cause = err
		}

		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr.Cause != nil {
			fields = append(fields, "cause", appErr.Cause.Error())
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			reqLog.Errorw(appErr.Message, fields...)
		} else {
			reqLog.Infow(appErr.Message, fields...)
		}

		if appErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(utils.RetryAfterSeconds(appErr.RetryAfter), 10))
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware converts panics into 500 responses.
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("panic recovered",
					"error", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", logger.RequestID(c.Request.Context()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
