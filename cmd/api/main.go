package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/calibermed/clinic-crm/internal/api/router"
	appconfig "github.com/calibermed/clinic-crm/internal/config"
	"github.com/calibermed/clinic-crm/internal/http/handlers"
	"github.com/calibermed/clinic-crm/internal/leads"
	"github.com/calibermed/clinic-crm/internal/observability/metrics"
	"github.com/calibermed/clinic-crm/internal/routing"
	"github.com/calibermed/clinic-crm/internal/triage"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

func main() {
	// Load .env in development; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-crm API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Agent directory: postgres when configured, in-memory otherwise.
	var directory routing.Directory
	var leadsRepo leads.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		directory = routing.NewPostgresDirectory(pool)
		leadsRepo = leads.NewPostgresRepository(pool)
		logger.Info("using postgres-backed agent directory")
	} else {
		directory = routing.NewMemoryDirectory()
		leadsRepo = leads.NewInMemoryRepository()
		logger.Info("using in-memory agent directory")
	}

	// Task queues: redis when configured, in-memory otherwise.
	var queues routing.QueueManager
	if cfg.UseRedisQueue && cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		queues = routing.NewRedisQueueManager(client, cfg.AvgHandlingSeconds)
		logger.Info("using redis-backed task queues", "addr", cfg.RedisAddr)
	} else {
		queues = routing.NewMemoryQueueManager(cfg.AvgHandlingSeconds)
		logger.Info("using in-memory task queues")
	}

	rules := routing.NewMemoryRuleStore()

	routingMetrics := metrics.NewRoutingMetrics(prometheus.DefaultRegisterer)

	engine := routing.NewEngine(directory, rules, queues, routingMetrics, logger, routing.EngineConfig{
		MatchThreshold: cfg.MatchThreshold,
	})

	mappingCfg := triage.DefaultMappingConfig()
	mappingCfg.UseSuggestedOwnerAsPreference = cfg.UseSuggestedOwnerPref
	assessor := triage.NewKeywordAssessor(logger)
	adapter := triage.NewAdapter(assessor, engine, mappingCfg, routingMetrics, logger)

	leadsHandler := leads.NewHandler(leadsRepo, adapter, logger)
	routingHandler := handlers.NewRoutingHandler(engine, directory, rules, queues, adapter, logger, handlers.RoutingHandlerConfig{
		DefaultMaxConcurrent: cfg.DefaultMaxConcurrent,
		DrainBatchSize:       cfg.DrainBatchSize,
	})

	routerCfg := &router.Config{
		Logger:              logger,
		RoutingHandler:      routingHandler,
		LeadsHandler:        leadsHandler,
		MetricsHandler:      promhttp.Handler(),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		IntakeRatePerSecond: cfg.IntakeRatePerSecond,
		IntakeBurst:         cfg.IntakeBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
