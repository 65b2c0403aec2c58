package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// AttemptLog is the durable, append-only delivery audit table. Payloads are
// stored as the exact signed bytes.
type AttemptLog struct {
	pool *pgxpool.Pool
}

func NewAttemptLog(pool *pgxpool.Pool) *AttemptLog {
	return &AttemptLog{pool: pool}
}

var _ ports.DeliveryAttemptLog = (*AttemptLog)(nil)

func (l *AttemptLog) Append(ctx context.Context, a *domain.DeliveryAttempt) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_attempts
			(id, subscription_id, event_id, event_type, payload, attempt, outcome, http_status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, string(a.SubscriptionID), a.EventID, string(a.EventType), string(a.Payload),
		a.Attempt, string(a.Outcome), a.HTTPStatus, a.Error, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (l *AttemptLog) ListBySubscription(ctx context.Context, id domain.SubscriptionID, limit int) ([]*domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, event_id, event_type, payload, attempt, outcome, http_status, error, created_at
		FROM webhook_delivery_attempts
		WHERE subscription_id = $1
		ORDER BY created_at DESC, attempt DESC
		LIMIT $2`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeliveryAttempt
	for rows.Next() {
		var (
			a         domain.DeliveryAttempt
			eventType string
			payload   string
			outcome   string
		)
		if err := rows.Scan(&a.ID, &a.EventID, &eventType, &payload, &a.Attempt, &outcome, &a.HTTPStatus, &a.Error, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.SubscriptionID = id
		a.EventType = domain.EventType(eventType)
		a.Payload = []byte(payload)
		a.Outcome = domain.DeliveryOutcome(outcome)
		out = append(out, &a)
	}
	return out, rows.Err()
}
