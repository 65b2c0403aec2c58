package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString drops control characters and surrounding whitespace from
// values that arrive on edge callback forms.
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

// TruncateString caps s at maxLen bytes, marking the cut with "...". The cut
// never splits a UTF-8 sequence.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	suffix := "..."
	if maxLen <= len(suffix) {
		suffix = ""
	}
	cut := maxLen - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

// MaskSensitive hides everything after the first visible runes of a stream key
// or secret so it can be logged.
func MaskSensitive(s string, visible int) string {
	runes := []rune(s)
	if visible > len(runes) {
		visible = len(runes)
	}
	if visible == len(runes) {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:visible]) + strings.Repeat("*", len(runes)-visible)
}
