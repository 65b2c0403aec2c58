package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/tracing"
)

// SubscriptionRepository reads subscriptions maintained by the CRUD service.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

var _ ports.SubscriptionRepository = (*SubscriptionRepository)(nil)

const selectSubscription = `SELECT id, app_id, url, events, secret, active FROM webhook_subscriptions`

func (r *SubscriptionRepository) ListActive(ctx context.Context, appID domain.AppID, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "select", "webhook_subscriptions")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		selectSubscription+` WHERE app_id = $1 AND active AND $2 = ANY(events) ORDER BY id`,
		string(appID), string(eventType),
	)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id domain.SubscriptionID) (*domain.WebhookSubscription, error) {
	row := r.pool.QueryRow(ctx, selectSubscription+` WHERE id = $1`, string(id))
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert is used by tests and seeding tools; the gateway itself never writes
// subscriptions.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub domain.WebhookSubscription) error {
	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, app_id, url, events, secret, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			app_id = EXCLUDED.app_id, url = EXCLUDED.url, events = EXCLUDED.events,
			secret = EXCLUDED.secret, active = EXCLUDED.active`,
		string(sub.ID), string(sub.AppID), sub.URL, events, sub.Secret, sub.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (domain.WebhookSubscription, error) {
	var (
		sub    domain.WebhookSubscription
		id     string
		appID  string
		events []string
	)
	if err := row.Scan(&id, &appID, &sub.URL, &events, &sub.Secret, &sub.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sub, err
		}
		return sub, fmt.Errorf("scan subscription: %w", err)
	}
	sub.ID = domain.SubscriptionID(id)
	sub.AppID = domain.AppID(appID)
	for _, e := range events {
		sub.Events = append(sub.Events, domain.EventType(e))
	}
	return sub, nil
}
