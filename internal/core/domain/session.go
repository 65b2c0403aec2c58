package domain

import (
	"strings"
	"time"
)

type StreamKey string
type StreamID string
type AppID string

type SessionState string

const (
	SessionIdle SessionState = "idle"
	SessionLive SessionState = "live"
)

// StreamSession is the ephemeral record of one live publish.
type StreamSession struct {
	StreamKey   StreamKey    `json:"stream_key"`
	StreamID    StreamID     `json:"stream_id,omitempty"`
	AppID       AppID        `json:"app_id,omitempty"`
	State       SessionState `json:"state"`
	StartedAt   time.Time    `json:"started_at"`
	ClientIP    string       `json:"client_ip,omitempty"`
	ViewerCount int64        `json:"viewer_count"`
}

// Duration returns how long the session has been live at now.
func (s *StreamSession) Duration(now time.Time) time.Duration {
	if s == nil || s.StartedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// StreamStats holds non-authoritative counters kept for observability.
type StreamStats struct {
	StreamKey      StreamKey  `json:"stream_key"`
	TotalPublishes int64      `json:"total_publishes"`
	TotalPlays     int64      `json:"total_plays"`
	LastPublish    *time.Time `json:"last_publish,omitempty"`
	LastPlay       *time.Time `json:"last_play,omitempty"`
}

// ParseStreamKey extracts the stream key from an edge-supplied name. Edges
// sometimes send "app/key"; the last path segment is the key.
func ParseStreamKey(name string) StreamKey {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return StreamKey(name)
}
