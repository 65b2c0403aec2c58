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

const statsTTL = 30 * 24 * time.Hour

// StatsRepository keeps per-stream counters in a hash. Counters are
// observability data; the registry stays authoritative.
type StatsRepository struct {
	client *redis.Client
	keys   Keyspace
}

func NewStatsRepository(client *redis.Client, keys Keyspace) *StatsRepository {
	return &StatsRepository{client: client, keys: keys}
}

var _ ports.StatsRepository = (*StatsRepository)(nil)

func (r *StatsRepository) RecordPublish(ctx context.Context, key domain.StreamKey, at time.Time) error {
	return r.record(ctx, key, "total_publishes", "last_publish", at)
}

func (r *StatsRepository) RecordPlay(ctx context.Context, key domain.StreamKey, at time.Time) error {
	return r.record(ctx, key, "total_plays", "last_play", at)
}

func (r *StatsRepository) record(ctx context.Context, key domain.StreamKey, counter, last string, at time.Time) error {
	hash := r.keys.Stats(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, hash, counter, 1)
		pipe.HSet(ctx, hash, last, at.UnixMilli())
		pipe.Expire(ctx, hash, statsTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", counter, err)
	}
	return nil
}

func (r *StatsRepository) Get(ctx context.Context, key domain.StreamKey) (*domain.StreamStats, error) {
	fields, err := r.client.HGetAll(ctx, r.keys.Stats(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &domain.StreamStats{StreamKey: key}
	stats.TotalPublishes, _ = strconv.ParseInt(fields["total_publishes"], 10, 64)
	stats.TotalPlays, _ = strconv.ParseInt(fields["total_plays"], 10, 64)
	stats.LastPublish = parseMillis(fields["last_publish"])
	stats.LastPlay = parseMillis(fields["last_play"])
	return stats, nil
}

func parseMillis(s string) *time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
