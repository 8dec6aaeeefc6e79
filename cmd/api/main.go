// Package main is the entry point for the TrekMate API server.
//
// It loads configuration, connects the database pool and the optional Redis
// throttle store, builds the HTTP server with the core chassis (middleware,
// routing, health checks), and wires the SOS, club, and profile handlers.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"trekmate/internal/api/handlers"
	"trekmate/internal/club"
	"trekmate/internal/config"
	"trekmate/internal/core"
	"trekmate/internal/db"
	"trekmate/internal/nearby"
	"trekmate/internal/notify"
	"trekmate/internal/telemetry"
	"trekmate/internal/throttle"
	"trekmate/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger := newLogger(cfg)
	logger.Info("trekmate API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	trekRepo := db.NewTrekRepository(pool)
	clubRepo := db.NewClubRepository(pool)
	profileRepo := db.NewProfileRepository(pool)

	// Redis is optional; without it the alert throttle and SOS dedup live
	// in process memory, which is fine for a single instance.
	var throttleStore throttle.Store
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		throttleStore = throttle.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
		logger.Info("using redis throttle store", "addr", cfg.Redis.Addr)
	} else {
		throttleStore = throttle.NewMemoryStore(types.RealClock{})
		logger.Info("using in-memory throttle store")
	}

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	gateway := notify.NewTwilioGateway(cfg.SMS, nil, logger)

	notifier := nearby.NewNotifier(nearby.NotifierConfig{
		Nearby:  cfg.Nearby,
		Store:   trekRepo,
		Phones:  profileRepo,
		Gateway: gateway,
		Metrics: metrics,
		Logger:  logger,
	})
	analyzer := club.NewAnalyzer(cfg.Club, clubRepo, throttleStore, metrics, nil, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sosHandler := handlers.NewSOSHandler(notifier, logger)
	clubHandler := handlers.NewClubHandler(analyzer, logger)
	profileHandler := handlers.NewProfileHandler(profileRepo, logger)
	trekHandler := handlers.NewTrekHandler(trekRepo, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		sosHandler.RegisterRoutes,
		clubHandler.RegisterRoutes,
		profileHandler.RegisterRoutes,
		trekHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})
	if redisClient != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "redis",
			Fn: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from the database configuration
// and verifies connectivity before the server starts taking traffic.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pc.MaxConns = int32(cfg.Database.MaxConns)
	pc.MinConns = int32(cfg.Database.MinConns)
	pc.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pc.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	pc.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newMetrics builds the telemetry collector. Metrics are opt-in; when
// disabled all counters are discarded.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Collector, error) {
	if !cfg.Metrics.Enabled {
		return telemetry.Noop{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Metrics.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg)
	return telemetry.NewCloudWatchCollector(client, cfg.Metrics.Namespace, logger), nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates the structured logger: JSON in deployed environments,
// text locally.
func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if cfg.Environment == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", cfg.Service)
}
