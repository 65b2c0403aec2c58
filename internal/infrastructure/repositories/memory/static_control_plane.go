package memory

import (
	"context"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// StaticSubscriptions serves a fixed subscription list, typically from
// configuration. Secrets stay in memory only.
type StaticSubscriptions struct {
	byApp map[domain.AppID][]domain.WebhookSubscription
	byID  map[domain.SubscriptionID]domain.WebhookSubscription
}

func NewStaticSubscriptions(subs []domain.WebhookSubscription) *StaticSubscriptions {
	s := &StaticSubscriptions{
		byApp: make(map[domain.AppID][]domain.WebhookSubscription),
		byID:  make(map[domain.SubscriptionID]domain.WebhookSubscription),
	}
	for _, sub := range subs {
		s.byApp[sub.AppID] = append(s.byApp[sub.AppID], sub)
		s.byID[sub.ID] = sub
	}
	return s
}

var _ ports.SubscriptionRepository = (*StaticSubscriptions)(nil)

func (s *StaticSubscriptions) ListActive(_ context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	var out []domain.WebhookSubscription
	for _, sub := range s.byApp[appID] {
		if sub.Matches(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *StaticSubscriptions) GetByID(_ context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error) {
	sub, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

// StaticValidator accepts exactly the configured stream keys. It is the
// development stand-in for the control-plane validation endpoint.
type StaticValidator struct {
	streams map[domain.StreamKey]domain.ValidationResult
}

func NewStaticValidator(results map[domain.StreamKey]domain.ValidationResult) *StaticValidator {
	return &StaticValidator{streams: results}
}

var _ ports.StreamValidator = (*StaticValidator)(nil)

func (v *StaticValidator) ValidateStreamKey(ctx context.Context, key domain.StreamKey, _, _ string) (domain.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ValidationResult{}, err
	}
	res, ok := v.streams[key]
	if !ok {
		return domain.ValidationResult{Valid: false}, nil
	}
	res.Valid = true
	return res, nil
}
