// Package signature signs and verifies webhook payloads with HMAC-SHA256.
//
// The header value has the form "sha256=<hex digest>" and is computed over the
// exact request body bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HeaderName = "X-Signature"
	prefix     = "sha256="
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the X-Signature value for payload.
func Header(secret string, payload []byte) string {
	return prefix + Sign(secret, payload)
}

// Verify checks a received X-Signature header against payload in constant time.
func Verify(secret string, payload []byte, header string) bool {
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
