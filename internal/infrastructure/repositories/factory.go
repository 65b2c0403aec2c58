package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/infrastructure/controlplane"
	"streamgate/internal/infrastructure/distributed"
	"streamgate/internal/infrastructure/repositories/memory"
	pgrepo "streamgate/internal/infrastructure/repositories/postgres"
	redisrepo "streamgate/internal/infrastructure/repositories/redis"
	"streamgate/pkg/circuitbreaker"
	"streamgate/pkg/config"
)

// Bus is both ends of the real-time channel.
type Bus interface {
	ports.RealtimeSink
	distributed.Subscriber
}

// RepositoryFactory picks the backing store for every port: Redis when it is
// enabled, memory when it is disabled. An unreachable Redis is an error
// unless redis.allow_memory_fallback is set. Subscriptions come from the
// control plane, then Postgres, then static configuration.
type RepositoryFactory struct {
	cfg        *config.Config
	clock      clockwork.Clock
	logger     *zap.SugaredLogger
	instanceID string

	redisClient *redis.Client
	keys        redisrepo.Keyspace
	pgPool      *pgxpool.Pool
	cpClient    *controlplane.Client

	// memory fallbacks are shared so every caller sees the same state
	memSessions *memory.SessionRegistry
	memStats    *memory.StatsRepository
	memRates    *memory.RateStore
	memAttempts *memory.AttemptLog
	localBus    *distributed.LocalBus
}

// NewRepositoryFactory connects to the configured stores. observer, when
// non-nil, receives per-command Redis timings.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, clock clockwork.Clock, observer redisrepo.CommandObserver, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	f := &RepositoryFactory{
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		instanceID: uuid.NewString(),
		keys:       redisrepo.NewKeyspace(cfg.Redis.KeyPrefix),
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.KeyPrefix,
		}, logger)
		switch {
		case err != nil && !cfg.Redis.AllowMemoryFallback:
			return nil, fmt.Errorf("redis: %w", err)
		case err != nil:
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		default:
			if observer != nil {
				client.AddHook(redisrepo.NewMetricsHook(observer))
			}
			f.redisClient = client
			logger.Info("using Redis repositories")
		}
	}
	if f.redisClient == nil {
		logger.Info("using memory repositories")
		f.memSessions = memory.NewSessionRegistry(clock, cfg.Gateway.SessionTTL, cfg.Gateway.ViewerTTL)
		f.memStats = memory.NewStatsRepository()
		f.memRates = memory.NewRateStore(clock)
		f.localBus = distributed.NewLocalBus(cfg.Realtime.ClientBuffer)
	}

	if cfg.Postgres.Enabled {
		pool, err := pgrepo.NewPool(ctx, pgrepo.PoolOptions{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MinConns:       cfg.Postgres.MinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout,
		}, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		f.pgPool = pool
	} else if f.redisClient == nil {
		f.memAttempts = memory.NewAttemptLog(int(cfg.Redis.AttemptLogMaxLen))
	}

	if cfg.ControlPlane.BaseURL != "" {
		breaker := circuitbreaker.DefaultConfig()
		breaker.FailureThreshold = cfg.ControlPlane.FailureThreshold
		breaker.Timeout = cfg.ControlPlane.ResetTimeout
		f.cpClient = controlplane.NewClient(controlplane.Options{
			BaseURL:        cfg.ControlPlane.BaseURL,
			APIKey:         cfg.ControlPlane.APIKey,
			RequestTimeout: cfg.ControlPlane.RequestTimeout,
			Breaker:        breaker,
		}, logger)
		logger.Infow("using control plane", "base_url", cfg.ControlPlane.BaseURL)
	} else if f.pgPool != nil && len(cfg.ControlPlane.StaticSubscriptions) > 0 {
		repo := pgrepo.NewSubscriptionRepository(f.pgPool)
		for _, sub := range staticSubscriptions(cfg) {
			if err := repo.Upsert(ctx, sub); err != nil {
				f.Close()
				return nil, fmt.Errorf("seed subscription %s: %w", sub.ID, err)
			}
		}
	}

	return f, nil
}

func (f *RepositoryFactory) InstanceID() string { return f.instanceID }

// RedisClient is nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client { return f.redisClient }

// PostgresPool is nil unless postgres is enabled.
func (f *RepositoryFactory) PostgresPool() *pgxpool.Pool { return f.pgPool }

func (f *RepositoryFactory) CreateSessionRegistry() ports.SessionRegistry {
	if f.redisClient != nil {
		return redisrepo.NewSessionRegistry(f.redisClient, f.keys, f.clock, f.cfg.Gateway.SessionTTL, f.cfg.Gateway.ViewerTTL)
	}
	return f.memSessions
}

func (f *RepositoryFactory) CreateStatsRepository() ports.StatsRepository {
	if f.redisClient != nil {
		return redisrepo.NewStatsRepository(f.redisClient, f.keys)
	}
	return f.memStats
}

func (f *RepositoryFactory) CreateRateStore() ports.RateStore {
	if f.redisClient != nil {
		return redisrepo.NewRateStore(f.redisClient, f.keys)
	}
	return f.memRates
}

// CreateAttemptLog prefers Postgres for durable audit history.
func (f *RepositoryFactory) CreateAttemptLog() ports.DeliveryAttemptLog {
	switch {
	case f.pgPool != nil:
		return pgrepo.NewAttemptLog(f.pgPool)
	case f.redisClient != nil:
		return redisrepo.NewAttemptLog(f.redisClient, f.keys, f.cfg.Redis.AttemptLogMaxLen)
	default:
		return f.memAttempts
	}
}

func (f *RepositoryFactory) CreateSubscriptionRepository() ports.SubscriptionRepository {
	switch {
	case f.cpClient != nil:
		return f.cpClient
	case f.pgPool != nil:
		return pgrepo.NewSubscriptionRepository(f.pgPool)
	default:
		return memory.NewStaticSubscriptions(staticSubscriptions(f.cfg))
	}
}

func (f *RepositoryFactory) CreateStreamValidator() ports.StreamValidator {
	if f.cpClient != nil {
		return f.cpClient
	}
	results := make(map[domain.StreamKey]domain.ValidationResult, len(f.cfg.ControlPlane.StaticStreams))
	for _, s := range f.cfg.ControlPlane.StaticStreams {
		results[domain.StreamKey(s.StreamKey)] = domain.ValidationResult{
			Valid:    true,
			StreamID: domain.StreamID(s.StreamID),
			AppID:    domain.AppID(s.AppID),
		}
	}
	return memory.NewStaticValidator(results)
}

// CreateEventBus returns the Redis pub/sub bus, or an in-process bus when
// Redis is unavailable.
func (f *RepositoryFactory) CreateEventBus() Bus {
	if f.redisClient != nil {
		return distributed.NewEventBus(f.redisClient, f.cfg.Realtime.Channel, f.instanceID, f.logger)
	}
	return f.localBus
}

// HealthCheck pings every connected store.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if f.pgPool != nil {
		if err := f.pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

func (f *RepositoryFactory) Close() error {
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	return redisrepo.CloseRedisClient(f.redisClient)
}

func staticSubscriptions(cfg *config.Config) []domain.WebhookSubscription {
	subs := make([]domain.WebhookSubscription, 0, len(cfg.ControlPlane.StaticSubscriptions))
	for _, s := range cfg.ControlPlane.StaticSubscriptions {
		events := make([]domain.EventType, 0, len(s.Events))
		for _, e := range s.Events {
			events = append(events, domain.EventType(e))
		}
		subs = append(subs, domain.WebhookSubscription{
			ID:     domain.SubscriptionID(s.ID),
			AppID:  domain.AppID(s.AppID),
			URL:    s.URL,
			Events: events,
			Secret: s.Secret,
			Active: true,
		})
	}
	return subs
}
