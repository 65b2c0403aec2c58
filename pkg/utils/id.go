package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewEventID returns a random event id. Receivers dedupe on it.
func NewEventID() string {
	return uuid.NewString()
}

func NewAttemptID() string {
	return uuid.NewString()
}

func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// HashIdentifier returns the hex SHA-256 of s. API keys are never stored or
// logged in clear text.
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
