package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/internal/core/domain"
)

func TestAuthService_GenerateAndValidate(t *testing.T) {
	svc := NewAuthService("test-secret", "streamgate")

	token, err := svc.GenerateToken("ops@example.com", "operator", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
	assert.NoError(t, svc.RequireRole(claims, "operator"))
	assert.ErrorIs(t, svc.RequireRole(claims, "admin"), ErrUnauthorized)
	assert.ErrorIs(t, svc.RequireRole(nil, "operator"), ErrUnauthorized)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	svc := NewAuthService("test-secret", "streamgate")

	expired, err := svc.GenerateToken("ops", "operator", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign, err := NewAuthService("other-secret", "streamgate").GenerateToken("ops", "operator", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewAuthService("test-secret", "someone-else").GenerateToken("ops", "operator", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPlaybackAuthorizer(t *testing.T) {
	ctx := context.Background()
	disabled := NewPlaybackAuthorizer(false, "")
	assert.NoError(t, disabled.AuthorizePlayback(ctx, "live_abc", ""))

	enabled := NewPlaybackAuthorizer(true, "viewer-secret")
	assert.ErrorIs(t, enabled.AuthorizePlayback(ctx, "live_abc", ""), domain.ErrPlaybackDenied)

	token, err := SignPlaybackToken("viewer-secret", "live_abc", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, enabled.AuthorizePlayback(ctx, "live_abc", token))
	assert.ErrorIs(t, enabled.AuthorizePlayback(ctx, "live_xyz", token), domain.ErrPlaybackDenied)

	expired, err := SignPlaybackToken("viewer-secret", "live_abc", -time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, enabled.AuthorizePlayback(ctx, "live_abc", expired), domain.ErrPlaybackDenied)
}
