package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)

	assert.Regexp(t, `^req_[0-9a-f-]{36}$`, NewRequestID())
	assert.NotEqual(t, NewAttemptID(), NewAttemptID())
}

func TestHashIdentifier(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashIdentifier("abc"))
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int64{
		60 * time.Second:                  60,
		59*time.Second + time.Millisecond: 60,
		3600 * time.Second:                3600,
		200 * time.Millisecond:            1,
		0:                                 1,
		-time.Second:                      1,
	}
	for in, want := range cases {
		assert.Equal(t, want, RetryAfterSeconds(in), in.String())
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		500 * time.Millisecond:        "500ms",
		1500 * time.Millisecond:       "1.50s",
		90 * time.Second:              "1m30s",
		2*time.Hour + 5*time.Minute:   "2h5m",
		26*time.Hour + 59*time.Second: "26h0m",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatDuration(in), in.String())
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "live_key", SanitizeString("  live\x00_key\n "))
	assert.Equal(t, "", SanitizeString("\t\r\n"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc...", TruncateString("abcdefghij", 6))
	assert.Equal(t, "short", TruncateString("short", 6))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	// "é" is two bytes; the cut backs off rather than split it.
	assert.Equal(t, "aé...", TruncateString("aéééé", 7))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "sk_********", MaskSensitive("sk_live_123", 3))
	assert.Equal(t, "***", MaskSensitive("abc", 5))
	assert.Equal(t, "kё**", MaskSensitive("kёys", 2))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-05-01T11:00:00Z", FormatTimestamp(ts))
}
