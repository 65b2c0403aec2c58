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
	"github.com/google/uuid"

	"streamgate/internal/core/services"
	"streamgate/internal/infrastructure/distributed"
	"streamgate/internal/infrastructure/middleware"
	"streamgate/internal/infrastructure/monitoring"
	"streamgate/internal/infrastructure/realtime"
	redisrepo "streamgate/internal/infrastructure/repositories/redis"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"
)

// The standalone feed fans the shared Redis channel out to WebSocket clients
// so gateway instances do not carry long-lived connections.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFirst("configs/config.yaml", "/etc/streamgate/config.yaml", "config.yaml")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if !cfg.Redis.Enabled {
		log.Fatal("realtime feed requires redis.enabled=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := monitoring.NewPrometheusCollector()

	client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Prefix:   cfg.Redis.KeyPrefix,
	}, log)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisrepo.CloseRedisClient(client)
	client.AddHook(redisrepo.NewMetricsHook(collector))

	bus := distributed.NewEventBus(client, cfg.Realtime.Channel, uuid.NewString(), log)
	hub := realtime.NewHub(realtime.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		ClientBuffer:   cfg.Realtime.ClientBuffer,
		MaxConnections: cfg.Realtime.MaxConnections,
		MaxMessageSize: cfg.Realtime.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, collector, log)

	feedErr := make(chan error, 1)
	go func() {
		if err := hub.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			feedErr <- err
		}
	}()

	healthChecker := monitoring.NewHealthChecker(log)
	healthChecker.AddRedisCheck(client, 30*time.Second, cfg.Monitoring.HealthTimeout)
	healthChecker.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log), middleware.RequestIDMiddleware(), middleware.ErrorHandlerMiddleware(log))
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	router.GET("/ws/events", middleware.OperatorAuthMiddleware(authService, cfg.Auth.OperatorRole), gin.WrapF(hub.ServeWS))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  monitoring.StatusHealthy,
			"clients": hub.ClientCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Realtime.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting streamgate realtime feed", "address", cfg.Realtime.Address, "channel", cfg.Realtime.Channel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case err := <-feedErr:
		log.Errorw("Redis subscription failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
	}
	log.Info("streamgate realtime feed stopped")
}
