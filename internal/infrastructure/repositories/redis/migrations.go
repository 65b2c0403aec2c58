package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type keyspaceStep func(ctx context.Context, client *redis.Client, keys Keyspace) error

// keyspaceSteps are applied in order; step i brings the keyspace to version i+1.
// Append only.
var keyspaceSteps = []keyspaceStep{
	// The active-session index must be a sorted set; older deployments kept a
	// plain set under the same name.
	func(ctx context.Context, client *redis.Client, keys Keyspace) error {
		kind, err := client.Type(ctx, keys.ActiveSessions()).Result()
		if err != nil {
			return err
		}
		if kind == "none" || kind == "zset" {
			return nil
		}
		return client.Del(ctx, keys.ActiveSessions()).Err()
	},
}

// Migrate brings the keyspace under keys up to the latest version. Instances
// racing on startup may both run a step, so every step must be idempotent.
func Migrate(ctx context.Context, client *redis.Client, keys Keyspace, logger *zap.SugaredLogger) error {
	version, err := client.Get(ctx, keys.SchemaVersion()).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read keyspace version: %w", err)
	}

	for i := version; i < len(keyspaceSteps); i++ {
		if logger != nil {
			logger.Infow("Migrating redis keyspace", "from", i, "to", i+1)
		}
		if err := keyspaceSteps[i](ctx, client, keys); err != nil {
			return fmt.Errorf("keyspace step %d: %w", i+1, err)
		}
		if err := client.Set(ctx, keys.SchemaVersion(), i+1, 0).Err(); err != nil {
			return fmt.Errorf("write keyspace version: %w", err)
		}
	}
	return nil
}
