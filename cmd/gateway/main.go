package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"
	httphandlers "streamgate/internal/handlers/http"
	"streamgate/internal/infrastructure/monitoring"
	"streamgate/internal/infrastructure/realtime"
	"streamgate/internal/infrastructure/repositories"
	"streamgate/internal/infrastructure/webhook"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/tracing"
)

const version = "1.0.0"

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/streamgate/config.yaml",
	"config.yaml",
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	issueToken := flag.String("issue-token", "", "print an operator token for this subject and exit")
	tokenRole := flag.String("role", "", "role for -issue-token (defaults to auth.operator_role)")
	tokenTTL := flag.Duration("ttl", 24*time.Hour, "lifetime for -issue-token")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFirst(configPaths...)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if *issueToken != "" {
		role := *tokenRole
		if role == "" {
			role = cfg.Auth.OperatorRole
		}
		token, err := authService.GenerateToken(*issueToken, role, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	collector := monitoring.NewPrometheusCollector()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	repoFactory, err := repositories.NewRepositoryFactory(startCtx, cfg, clock, collector, log)
	startCancel()
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	sessions := repoFactory.CreateSessionRegistry()
	stats := repoFactory.CreateStatsRepository()
	attempts := repoFactory.CreateAttemptLog()
	bus := repoFactory.CreateEventBus()

	subs := repoFactory.CreateSubscriptionRepository()
	if ttl := cfg.ControlPlane.SubscriptionCacheTTL; ttl > 0 {
		cached := services.NewCachedSubscriptionRepository(subs, ttl, clock)
		defer cached.Stop()
		subs = cached
	}

	var dispatcher ports.WebhookDispatcher
	var engine *services.DeliveryEngine
	if cfg.Webhooks.Enabled {
		engine = services.NewDeliveryEngine(
			webhook.NewSender(nil, cfg.Webhooks.PerHostRate, cfg.Webhooks.PerHostBurst),
			subs,
			attempts,
			collector,
			clock,
			services.DeliveryConfig{
				MaxRetries:     cfg.Webhooks.MaxRetries,
				RetryBaseDelay: cfg.Webhooks.RetryBaseDelay,
				RetryMaxDelay:  cfg.Webhooks.RetryMaxDelay,
				RequestTimeout: cfg.Webhooks.RequestTimeout,
				UserAgent:      cfg.Webhooks.UserAgent,
			},
			log,
		)
		dispatcher = engine
	}

	notifier := services.NewNotifier(bus, dispatcher, collector, services.NotifierConfig{
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
	}, log)

	gateway := services.NewIngestGateway(
		sessions,
		stats,
		repoFactory.CreateStreamValidator(),
		services.NewPlaybackAuthorizer(cfg.Playback.Enabled, cfg.Playback.Secret),
		notifier,
		collector,
		clock,
		services.GatewayConfig{
			ValidationTimeout: cfg.Gateway.ValidationTimeout,
			DecisionDeadline:  cfg.Gateway.DecisionDeadline,
			FailOpen:          cfg.Gateway.ValidationFailurePolicy == config.PolicyOpen,
		},
		log,
	)

	guard := services.NewRateGuard(repoFactory.CreateRateStore(), collector, clock, services.GuardConfig{
		FailOpen:       cfg.Guard.FailOpen,
		StoreTimeout:   cfg.Guard.StoreTimeout,
		BurstWindow:    cfg.Guard.BurstWindow,
		BurstThreshold: cfg.Guard.BurstThreshold,
		BlockDuration:  cfg.Guard.BlockDuration,
		PerMinute:      cfg.Guard.PerMinute,
		PerHour:        cfg.Guard.PerHour,
		AllowedIPs:     cfg.Guard.AllowedIPs,
	}, log)

	hub := realtime.NewHub(realtime.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		ClientBuffer:   cfg.Realtime.ClientBuffer,
		MaxConnections: cfg.Realtime.MaxConnections,
		MaxMessageSize: cfg.Realtime.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, collector, log)
	go func() {
		if err := hub.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Realtime feed stopped", "error", err)
		}
	}()

	healthChecker := monitoring.NewHealthChecker(log)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, cfg.Monitoring.HealthTimeout)
	}
	if pool := repoFactory.PostgresPool(); pool != nil {
		healthChecker.AddPostgresCheck(pool, 30*time.Second, cfg.Monitoring.HealthTimeout)
	}
	healthChecker.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := httphandlers.RouterConfig{
		Ingest:        httphandlers.NewIngestHandler(gateway),
		Streams:       httphandlers.NewStreamHandler(sessions, stats, guard),
		Health:        httphandlers.NewHealthHandler(healthChecker, "streamgate-gateway", version),
		Auth:          authService,
		OperatorRole:  cfg.Auth.OperatorRole,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Events:        hub.ServeWS,
		Recorder:      collector,
		Logger:        log,
	}
	if cfg.Guard.Enabled {
		routerCfg.Guard = guard
	}
	if engine != nil {
		routerCfg.Webhooks = httphandlers.NewWebhookHandler(subs, engine, attempts, clock)
	}
	if cfg.Monitoring.PrometheusEnabled {
		routerCfg.Metrics = collector.Handler()
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      httphandlers.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting streamgate gateway",
			"address", cfg.Server.Address,
			"instance_id", repoFactory.InstanceID(),
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down streamgate gateway...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Errorw("Notifier did not drain", "error", err)
	}
	if engine != nil {
		if err := engine.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Delivery engine did not drain", "error", err)
		}
	}
	hub.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("streamgate gateway stopped")
}
