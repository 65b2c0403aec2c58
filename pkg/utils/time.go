package utils

import (
	"fmt"
	"time"
)

// FormatDuration renders session lengths for log lines: milliseconds under a
// second, two decimals under a minute, then minute or hour granularity.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// RetryAfterSeconds turns the time left in a rate window into a Retry-After
// header value. Partial seconds round up and the result is at least 1.
func RetryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
