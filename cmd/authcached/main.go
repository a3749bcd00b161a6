// cmd/authcached/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/authgrid/authcache/internal/api"
	"github.com/authgrid/authcache/internal/cache"
	"github.com/authgrid/authcache/internal/config"
	"github.com/authgrid/authcache/internal/monitor"
	"github.com/authgrid/authcache/internal/navigation"
	"github.com/authgrid/authcache/internal/prefetch"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("AUTHCACHE_CONFIG", ""), "path to YAML config")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	config.LoadFromEnv(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable tier
	var durable *cache.DurableStore
	switch cfg.Cache.Backend {
	case "file":
		kv, err := cache.NewFileKV(cfg.Cache.FilePath, cfg.Cache.FileMaxBytes)
		if err != nil {
			logger.Fatal("failed to open file backend", zap.Error(err))
		}
		durable = cache.NewDurableStore(kv, logger)
		logger.Info("using file durable tier", zap.String("path", cfg.Cache.FilePath))

	case "postgres":
		if cfg.Cache.PostgresDSN == "" {
			logger.Fatal("postgres backend requires cache.postgres_dsn")
		}
		kv, err := cache.NewPostgresKV(cfg.Cache.PostgresDSN, cfg.Cache.PostgresMaxRows)
		if err != nil {
			logger.Fatal("failed to open postgres backend", zap.Error(err))
		}
		defer func() { _ = kv.Close() }()
		durable = cache.NewDurableStore(kv, logger)
		logger.Info("using postgres durable tier")

	case "none":
		logger.Info("durable tier disabled, memory-only caching")

	default:
		logger.Fatal("invalid cache.backend", zap.String("backend", cfg.Cache.Backend))
	}

	// Engine wiring
	mon := monitor.New()
	memory := cache.NewMemoryStore(cfg.Cache.MemoryCapacity)
	manager := cache.NewManager(memory, durable, logger, cache.ManagerOptions{
		TTL: cache.TTLPolicy{
			Permission:       cfg.Cache.PermissionTTL,
			EndpointMetadata: cfg.Cache.EndpointMetadataTTL,
			RoleAssignment:   cfg.Cache.RoleAssignmentTTL,
		},
		Hooks: mon,
	})
	manager.StartSweeper(ctx, cfg.Cache.SweepInterval)

	model := navigation.NewModel(cfg.Tracking.DecayEvery)
	tracker := navigation.NewTracker(cfg.Tracking.HistorySize, model)

	source := prefetch.NewHTTPAuthSource(cfg.Auth.ServiceURL, cfg.Auth.LoadTimeout)
	prefetcher := prefetch.New(model, manager, source, nil, logger, prefetch.Options{
		TopK:          cfg.Prefetch.TopK,
		Threshold:     cfg.Prefetch.Threshold,
		RatePerSecond: cfg.Prefetch.RatePerSecond,
		Hooks:         mon,
	})
	defer prefetcher.Close()

	// Threshold is tunable without a restart.
	if err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
		prefetcher.SetThreshold(next.Prefetch.Threshold)
	}); err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
	}

	server := api.NewServer(cfg.Server.Port, &api.Engine{
		Manager:    manager,
		Tracker:    tracker,
		Model:      model,
		Prefetcher: prefetcher,
		Monitor:    mon,
		Source:     source,
	}, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("authcached starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Cache.Backend),
		zap.String("session", tracker.SessionID()))

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
