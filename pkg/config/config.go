package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"streamgate/pkg/validation"
)

// Validation failure policies for the ingest gateway.
const (
	PolicyClosed = "closed"
	PolicyOpen   = "open"
)

type StaticSubscription struct {
	ID     string   `yaml:"id"`
	AppID  string   `yaml:"app_id"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

type StaticStream struct {
	StreamKey string `yaml:"stream_key"`
	StreamID  string `yaml:"stream_id"`
	AppID     string `yaml:"app_id"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// MaxConcurrent caps in-flight ingest requests; zero disables the cap.
		MaxConcurrent int `yaml:"max_concurrent"`
	} `yaml:"server"`

	Realtime struct {
		Address             string        `yaml:"address"`
		Channel             string        `yaml:"channel"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ClientBuffer        int           `yaml:"client_buffer"`
		MaxConnections      int           `yaml:"max_connections"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"realtime"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
		// AttemptLogMaxLen caps each subscription's attempt stream (approximate trim).
		AttemptLogMaxLen int64 `yaml:"attempt_log_max_len"`
		// AllowMemoryFallback lets a single instance start on process-local
		// stores when Redis is unreachable at boot. Unsafe with more than one
		// gateway instance.
		AllowMemoryFallback bool `yaml:"allow_memory_fallback"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled        bool          `yaml:"enabled"`
		DSN            string        `yaml:"dsn"`
		MaxConns       int32         `yaml:"max_conns"`
		MinConns       int32         `yaml:"min_conns"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"postgres"`

	ControlPlane struct {
		BaseURL          string        `yaml:"base_url"`
		APIKey           string        `yaml:"api_key"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		FailureThreshold int           `yaml:"failure_threshold"`
		ResetTimeout     time.Duration `yaml:"reset_timeout"`
		// SubscriptionCacheTTL bounds staleness of subscription lookups; 0 disables caching.
		SubscriptionCacheTTL time.Duration        `yaml:"subscription_cache_ttl"`
		StaticStreams        []StaticStream       `yaml:"static_streams"`
		StaticSubscriptions  []StaticSubscription `yaml:"static_subscriptions"`
	} `yaml:"control_plane"`

	Gateway struct {
		ValidationTimeout       time.Duration `yaml:"validation_timeout"`
		DecisionDeadline        time.Duration `yaml:"decision_deadline"`
		ValidationFailurePolicy string        `yaml:"validation_failure_policy"`
		SessionTTL              time.Duration `yaml:"session_ttl"`
		ViewerTTL               time.Duration `yaml:"viewer_ttl"`
	} `yaml:"gateway"`

	Guard struct {
		Enabled        bool          `yaml:"enabled"`
		FailOpen       bool          `yaml:"fail_open"`
		StoreTimeout   time.Duration `yaml:"store_timeout"`
		BurstWindow    time.Duration `yaml:"burst_window"`
		BurstThreshold int64         `yaml:"burst_threshold"`
		BlockDuration  time.Duration `yaml:"block_duration"`
		PerMinute      int64         `yaml:"per_minute"`
		PerHour        int64         `yaml:"per_hour"`
		AllowedIPs     []string      `yaml:"allowed_ips"`
	} `yaml:"guard"`

	Webhooks struct {
		Enabled        bool          `yaml:"enabled"`
		MaxRetries     int           `yaml:"max_retries"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
		RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		UserAgent      string        `yaml:"user_agent"`
		PerHostRate    float64       `yaml:"per_host_rate"`
		PerHostBurst   int           `yaml:"per_host_burst"`
	} `yaml:"webhooks"`

	Notifier struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"notifier"`

	Auth struct {
		JWTSecret    string `yaml:"jwt_secret"`
		Issuer       string `yaml:"issuer"`
		OperatorRole string `yaml:"operator_role"`
	} `yaml:"auth"`

	Playback struct {
		Enabled bool   `yaml:"enabled"`
		Secret  string `yaml:"secret"`
	} `yaml:"playback"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		HealthTimeout     time.Duration `yaml:"health_timeout"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.read_timeout and server.write_timeout must be > 0")
	}
	if c.Server.MaxConcurrent < 0 {
		return fmt.Errorf("server.max_concurrent must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Realtime.Address == "" {
		return fmt.Errorf("realtime.address must not be empty")
	}
	if c.Realtime.Channel == "" {
		return fmt.Errorf("realtime.channel must not be empty")
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout must be greater than realtime.ping_interval > 0")
	}
	if c.Realtime.ClientBuffer <= 0 {
		return fmt.Errorf("realtime.client_buffer must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must not be empty when postgres.enabled=true")
	}

	if c.ControlPlane.BaseURL != "" {
		if err := validation.ValidateWebhookURL(c.ControlPlane.BaseURL); err != nil {
			return fmt.Errorf("control_plane.base_url: %w", err)
		}
		if c.ControlPlane.FailureThreshold <= 0 {
			return fmt.Errorf("control_plane.failure_threshold must be > 0")
		}
	}
	for i, sub := range c.ControlPlane.StaticSubscriptions {
		if sub.ID == "" || sub.AppID == "" {
			return fmt.Errorf("control_plane.static_subscriptions[%d]: id and app_id are required", i)
		}
		if err := validation.ValidateWebhookURL(sub.URL); err != nil {
			return fmt.Errorf("control_plane.static_subscriptions[%d].url: %w", i, err)
		}
		for _, e := range sub.Events {
			if err := validation.ValidateEventType(e); err != nil {
				return fmt.Errorf("control_plane.static_subscriptions[%d].events: %w", i, err)
			}
		}
	}

	if c.Gateway.ValidationTimeout <= 0 {
		return fmt.Errorf("gateway.validation_timeout must be > 0")
	}
	if c.Gateway.DecisionDeadline < c.Gateway.ValidationTimeout {
		return fmt.Errorf("gateway.decision_deadline must be >= gateway.validation_timeout")
	}
	if p := c.Gateway.ValidationFailurePolicy; p != PolicyClosed && p != PolicyOpen {
		return fmt.Errorf("gateway.validation_failure_policy must be %q or %q, got %q", PolicyClosed, PolicyOpen, p)
	}
	if c.Gateway.SessionTTL <= 0 || c.Gateway.ViewerTTL <= 0 {
		return fmt.Errorf("gateway.session_ttl and gateway.viewer_ttl must be > 0")
	}

	if c.Guard.Enabled {
		if c.Guard.BurstWindow <= 0 || c.Guard.BurstThreshold <= 0 {
			return fmt.Errorf("guard.burst_window and guard.burst_threshold must be > 0")
		}
		if c.Guard.BlockDuration <= 0 {
			return fmt.Errorf("guard.block_duration must be > 0")
		}
		if c.Guard.PerMinute <= 0 || c.Guard.PerHour <= 0 {
			return fmt.Errorf("guard.per_minute and guard.per_hour must be > 0")
		}
	}
	for _, ip := range c.Guard.AllowedIPs {
		if err := validation.ValidateIPOrCIDR(ip); err != nil {
			return fmt.Errorf("guard.allowed_ips: %w", err)
		}
	}

	if c.Webhooks.MaxRetries < 1 {
		return fmt.Errorf("webhooks.max_retries must be >= 1")
	}
	if c.Webhooks.RetryBaseDelay <= 0 {
		return fmt.Errorf("webhooks.retry_base_delay must be > 0")
	}
	if c.Webhooks.RequestTimeout <= 0 {
		return fmt.Errorf("webhooks.request_timeout must be > 0")
	}
	if c.Webhooks.PerHostRate < 0 || c.Webhooks.PerHostBurst < 0 {
		return fmt.Errorf("webhooks.per_host_rate and webhooks.per_host_burst must be >= 0")
	}

	if c.Notifier.Workers <= 0 || c.Notifier.QueueSize <= 0 {
		return fmt.Errorf("notifier.workers and notifier.queue_size must be > 0")
	}

	if err := validation.ValidateNonEmptyString(c.Auth.JWTSecret, "auth.jwt_secret"); err != nil {
		return err
	}
	if err := validation.ValidateNonEmptyString(c.Auth.OperatorRole, "auth.operator_role"); err != nil {
		return err
	}
	if c.Playback.Enabled && c.Playback.Secret == "" {
		return fmt.Errorf("playback.secret must not be empty when playback.enabled=true")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst tries each path in order and falls back to defaults.
func LoadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Realtime.Address = ":8081"
	cfg.Realtime.Channel = "streamgate:events"
	cfg.Realtime.PingInterval = 30 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second
	cfg.Realtime.WriteTimeout = 10 * time.Second
	cfg.Realtime.ClientBuffer = 64
	cfg.Realtime.MaxConnections = 1000
	cfg.Realtime.MaxMessageSizeBytes = 4 * 1024
	cfg.Realtime.AllowedOrigins = []string{"*"}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "streamgate"
	cfg.Redis.AttemptLogMaxLen = 1000

	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 1
	cfg.Postgres.ConnectTimeout = 5 * time.Second

	cfg.ControlPlane.RequestTimeout = 3 * time.Second
	cfg.ControlPlane.FailureThreshold = 5
	cfg.ControlPlane.ResetTimeout = 30 * time.Second
	cfg.ControlPlane.SubscriptionCacheTTL = 30 * time.Second

	cfg.Gateway.ValidationTimeout = 3 * time.Second
	cfg.Gateway.DecisionDeadline = 5 * time.Second
	cfg.Gateway.ValidationFailurePolicy = PolicyClosed
	cfg.Gateway.SessionTTL = 24 * time.Hour
	cfg.Gateway.ViewerTTL = 2 * time.Minute

	cfg.Guard.Enabled = true
	cfg.Guard.FailOpen = true
	cfg.Guard.StoreTimeout = 500 * time.Millisecond
	cfg.Guard.BurstWindow = 10 * time.Second
	cfg.Guard.BurstThreshold = 100
	cfg.Guard.BlockDuration = time.Hour
	cfg.Guard.PerMinute = 60
	cfg.Guard.PerHour = 1000

	cfg.Webhooks.Enabled = true
	cfg.Webhooks.MaxRetries = 3
	cfg.Webhooks.RetryBaseDelay = time.Second
	cfg.Webhooks.RetryMaxDelay = 5 * time.Minute
	cfg.Webhooks.RequestTimeout = 10 * time.Second
	cfg.Webhooks.UserAgent = "streamgate-webhooks/1.0"
	cfg.Webhooks.PerHostRate = 20
	cfg.Webhooks.PerHostBurst = 40

	cfg.Notifier.Workers = 8
	cfg.Notifier.QueueSize = 1024

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "streamgate"
	cfg.Auth.OperatorRole = "operator"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthTimeout = 2 * time.Second

	cfg.Tracing.ServiceName = "streamgate"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STREAMGATE_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("STREAMGATE_REALTIME_ADDRESS"); v != "" {
		c.Realtime.Address = v
	}
	if v := os.Getenv("STREAMGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STREAMGATE_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("STREAMGATE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("STREAMGATE_REDIS_ALLOW_MEMORY_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Redis.AllowMemoryFallback = b
		}
	}
	if v := os.Getenv("STREAMGATE_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("STREAMGATE_CONTROL_PLANE_URL"); v != "" {
		c.ControlPlane.BaseURL = v
	}
	if v := os.Getenv("STREAMGATE_CONTROL_PLANE_API_KEY"); v != "" {
		c.ControlPlane.APIKey = v
	}
	if v := os.Getenv("STREAMGATE_VALIDATION_FAILURE_POLICY"); v != "" {
		c.Gateway.ValidationFailurePolicy = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMGATE_GUARD_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Guard.FailOpen = b
		}
	}
	if v := os.Getenv("STREAMGATE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("STREAMGATE_PLAYBACK_SECRET"); v != "" {
		c.Playback.Secret = v
	}
}
