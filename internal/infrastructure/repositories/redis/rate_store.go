package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"streamgate/internal/core/ports"
)

// RateStore implements fixed-window counters and block records. Windows start
// on the first hit and expire through Redis TTLs.
type RateStore struct {
	client *redis.Client
	keys   Keyspace
}

func NewRateStore(client *redis.Client, keys Keyspace) *RateStore {
	return &RateStore{client: client, keys: keys}
}

var _ ports.RateStore = (*RateStore)(nil)

func (s *RateStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := hitWindowScript.Run(ctx, s.client, []string{s.keys.RateCounter(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("hit window script failed: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("hit window script returned %d values", len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (s *RateStore) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	redisKey := s.keys.RateCounter(key)
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, redisKey)
		ttlCmd = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("failed to read counter: %w", err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("invalid counter value: %w", err)
	}
	return count, positive(ttlCmd.Val()), nil
}

func (s *RateStore) BlockTTL(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.keys.Block(identifier)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read block: %w", err)
	}
	return positive(ttl), nil
}

func (s *RateStore) Block(ctx context.Context, identifier string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keys.Block(identifier), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}

// positive maps the negative PTTL sentinels (missing key, no expiry) to zero.
func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
