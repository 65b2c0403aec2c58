package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStreamLive    EventType = "stream.live"
	EventStreamOffline EventType = "stream.offline"
	EventWebhookTest   EventType = "webhook.test"
)

// DataClientIP is the Envelope.Data key carrying the publisher address.
const DataClientIP = "client_ip"

// Envelope is the canonical record of one session lifecycle occurrence. It is
// shared by the real-time sink and webhook delivery, and its JSON encoding is
// the signed payload: field order is fixed by the struct and Data keys are
// emitted sorted by encoding/json.
type Envelope struct {
	EventID   string            `json:"event_id"`
	EventType EventType         `json:"event_type"`
	AppID     AppID             `json:"app_id"`
	StreamID  StreamID          `json:"stream_id"`
	StreamKey StreamKey         `json:"stream_key"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Canonical returns the bytes that are signed and sent to subscribers.
func (e Envelope) Canonical() ([]byte, error) {
	return json.Marshal(e)
}
