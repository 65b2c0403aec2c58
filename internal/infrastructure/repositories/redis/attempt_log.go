package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// AttemptLog appends delivery attempts to one Redis stream per subscription,
// trimmed approximately to maxLen entries.
type AttemptLog struct {
	client *redis.Client
	keys   Keyspace
	maxLen int64
}

func NewAttemptLog(client *redis.Client, keys Keyspace, maxLen int64) *AttemptLog {
	return &AttemptLog{client: client, keys: keys, maxLen: maxLen}
}

var _ ports.DeliveryAttemptLog = (*AttemptLog)(nil)

func (l *AttemptLog) Append(ctx context.Context, a *domain.DeliveryAttempt) error {
	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.keys.Attempts(a.SubscriptionID),
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          a.ID,
			"event_id":    a.EventID,
			"event_type":  string(a.EventType),
			"attempt":     a.Attempt,
			"outcome":     string(a.Outcome),
			"http_status": a.HTTPStatus,
			"error":       a.Error,
			"timestamp":   a.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":     string(a.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append delivery attempt: %w", err)
	}
	return nil
}

// ListBySubscription returns the newest attempts first.
func (l *AttemptLog) ListBySubscription(ctx context.Context, id domain.SubscriptionID, limit int) ([]*domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := l.client.XRevRangeN(ctx, l.keys.Attempts(id), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery attempts: %w", err)
	}

	attempts := make([]*domain.DeliveryAttempt, 0, len(msgs))
	for _, msg := range msgs {
		attempts = append(attempts, decodeAttempt(id, msg.Values))
	}
	return attempts, nil
}

func decodeAttempt(id domain.SubscriptionID, v map[string]interface{}) *domain.DeliveryAttempt {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	attempt, _ := strconv.Atoi(str("attempt"))
	status, _ := strconv.Atoi(str("http_status"))
	ts, _ := time.Parse(time.RFC3339Nano, str("timestamp"))

	return &domain.DeliveryAttempt{
		ID:             str("id"),
		SubscriptionID: id,
		EventID:        str("event_id"),
		EventType:      domain.EventType(str("event_type")),
		Payload:        []byte(str("payload")),
		Attempt:        attempt,
		Outcome:        domain.DeliveryOutcome(str("outcome")),
		HTTPStatus:     status,
		Error:          str("error"),
		Timestamp:      ts,
	}
}
