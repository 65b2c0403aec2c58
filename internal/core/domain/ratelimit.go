package domain

import "time"

type RateScope string

const (
	ScopeMinute RateScope = "minute"
	ScopeHour   RateScope = "hour"
	ScopeBurst  RateScope = "burst"
)

// RateWindow is a snapshot of one fixed-window counter.
type RateWindow struct {
	Identifier string        `json:"identifier"`
	Scope      RateScope     `json:"scope"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Count      int64         `json:"count"`
	Limit      int64         `json:"limit"`
	Remaining  time.Duration `json:"remaining"`
	// BlockedUntil is set on the burst window while the identifier is blocked.
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// GuardDecision is the result of evaluating one request against the guard.
type GuardDecision struct {
	Allowed    bool
	Blocked    bool
	Scope      RateScope
	RetryAfter time.Duration
	// StoreError is set when the counting store failed and the decision was
	// taken by the configured failure policy.
	StoreError error
}

// ValidationResult is what the stream-key validation collaborator returns.
type ValidationResult struct {
	Valid    bool
	StreamID StreamID
	AppID    AppID
}
