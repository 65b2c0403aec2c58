package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"streamgate/internal/core/services"
	apperrors "streamgate/pkg/errors"
)

const (
	ContextSubject = "subject"
	ContextRole    = "role"
)

// OperatorAuthMiddleware requires a bearer token carrying role. WebSocket
// upgrades may pass the token as a token query parameter instead, since
// browsers cannot set headers on them.
func OperatorAuthMiddleware(authService services.AuthService, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && c.IsWebsocket() {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			_ = c.Error(apperrors.NewUnauthorizedError("bearer token required"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, err.Error()))
			c.Abort()
			return
		}
		if err := authService.RequireRole(claims, role); err != nil {
			_ = c.Error(apperrors.NewForbiddenError("insufficient role"))
			c.Abort()
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
