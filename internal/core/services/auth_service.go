package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and verifies operator bearer tokens for the read API.
type AuthService interface {
	GenerateToken(subject, role string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	RequireRole(claims *Claims, role string) error
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	issuer    string
	now       func() time.Time
}

func NewAuthService(jwtSecret, issuer string) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		now:       time.Now,
	}
}

func (s *authService) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, hmacKey(s.jwtSecret), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) RequireRole(claims *Claims, role string) error {
	if claims == nil || claims.Role != role {
		return ErrUnauthorized
	}
	return nil
}

func hmacKey(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}
}

// PlaybackClaims bind a viewer token to one stream key.
type PlaybackClaims struct {
	StreamKey domain.StreamKey `json:"stream_key"`
	jwt.RegisteredClaims
}

type playbackAuthorizer struct {
	enabled bool
	secret  []byte
}

// NewPlaybackAuthorizer returns the play-time token check. When disabled every
// play is allowed.
func NewPlaybackAuthorizer(enabled bool, secret string) ports.PlaybackAuthorizer {
	return &playbackAuthorizer{enabled: enabled, secret: []byte(secret)}
}

func (a *playbackAuthorizer) AuthorizePlayback(_ context.Context, key domain.StreamKey, token string) error {
	if !a.enabled {
		return nil
	}
	if token == "" {
		return domain.ErrPlaybackDenied
	}

	claims := &PlaybackClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, hmacKey(a.secret))
	if err != nil || !parsed.Valid || claims.StreamKey != key {
		return domain.ErrPlaybackDenied
	}
	return nil
}

// SignPlaybackToken issues a viewer token for key.
func SignPlaybackToken(secret string, key domain.StreamKey, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &PlaybackClaims{
		StreamKey: key,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
