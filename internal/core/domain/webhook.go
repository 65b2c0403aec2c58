package domain

import "time"

type SubscriptionID string

// WebhookSubscription is owned by the CRUD layer; the delivery engine only
// reads active ones.
type WebhookSubscription struct {
	ID     SubscriptionID `json:"id"`
	AppID  AppID          `json:"app_id"`
	URL    string         `json:"url"`
	Events []EventType    `json:"events"`
	Secret string         `json:"-"`
	Active bool           `json:"active"`
}

// Matches reports whether the subscription is active and listens for t.
func (s WebhookSubscription) Matches(t EventType) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

type DeliveryOutcome string

const (
	OutcomeSuccess          DeliveryOutcome = "success"
	OutcomeTransientFailure DeliveryOutcome = "transient_failure"
	OutcomePermanentFailure DeliveryOutcome = "permanent_failure"
)

const ReasonMaxRetriesExceeded = "max retries exceeded"

// DeliveryAttempt is one immutable row of the delivery audit log.
type DeliveryAttempt struct {
	ID             string          `json:"id"`
	SubscriptionID SubscriptionID  `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	EventType      EventType       `json:"event_type"`
	Payload        []byte          `json:"payload"`
	Attempt        int             `json:"attempt"`
	Outcome        DeliveryOutcome `json:"outcome"`
	HTTPStatus     int             `json:"http_status,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// DeliveryResult is the terminal per-subscription outcome of a dispatch.
type DeliveryResult struct {
	SubscriptionID SubscriptionID  `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	Outcome        DeliveryOutcome `json:"outcome"`
	Attempts       int             `json:"attempts"`
	HTTPStatus     int             `json:"http_status,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Delivered reports whether the subscriber acknowledged the event.
func (r DeliveryResult) Delivered() bool {
	return r.Outcome == OutcomeSuccess
}
