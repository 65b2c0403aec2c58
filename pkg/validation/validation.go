package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// StreamKeyRegex matches the characters ingest edges are allowed to send as a key.
	StreamKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

	// IdentifierRegex validates app, stream and subscription ids.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_:\-]+$`)

	EventTypeRegex = regexp.MustCompile(`^[a-z]+(\.[a-z_]+)+$`)
)

// ValidateStreamKey validates a bare stream key (without the app prefix).
func ValidateStreamKey(key string) error {
	if key == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(key) > 256 {
		return fmt.Errorf("stream key is too long (max 256 characters)")
	}
	if !StreamKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid stream key format")
	}
	return nil
}

func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", fieldName)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

func ValidateEventType(eventType string) error {
	if !EventTypeRegex.MatchString(eventType) {
		return fmt.Errorf("invalid event type %q", eventType)
	}
	return nil
}

// ValidateWebhookURL requires an absolute http(s) URL with a host.
func ValidateWebhookURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateIPOrCIDR accepts a single address or a CIDR block.
func ValidateIPOrCIDR(s string) error {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return fmt.Errorf("invalid CIDR %q", s)
		}
		return nil
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP address %q", s)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
