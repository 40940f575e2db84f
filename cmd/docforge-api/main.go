// Command docforge-api serves the HTTP facade: task submission, status,
// listing, cancellation, queue stats, admin maintenance triggers, and
// health/metrics, following the teacher's noisefs-webui main-package
// shape (flags, typed config, single ListenAndServe).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parsehaven/docforge/pkg/api"
	"github.com/parsehaven/docforge/pkg/config"
	"github.com/parsehaven/docforge/pkg/engine"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/maintenance"
	"github.com/parsehaven/docforge/pkg/metrics"
	"github.com/parsehaven/docforge/pkg/queue"
	"github.com/parsehaven/docforge/pkg/ratelimit"
	"github.com/parsehaven/docforge/pkg/resilience"
	"github.com/parsehaven/docforge/pkg/task"
	"github.com/parsehaven/docforge/pkg/task/memstore"
	"github.com/parsehaven/docforge/pkg/task/postgres"
)

// swappableLimiter lets a config hot-reload install a freshly-sized
// ratelimit.Limiter without needing to rebuild the router, which has
// already captured the rateLimiter interface value at startup.
type swappableLimiter struct {
	current atomic.Pointer[ratelimit.Limiter]
}

func (s *swappableLimiter) CheckLimit(r *http.Request) error { return s.current.Load().CheckLimit(r) }
func (s *swappableLimiter) Release(r *http.Request)          { s.current.Load().Release(r) }

func (s *swappableLimiter) set(l *ratelimit.Limiter) {
	if old := s.current.Swap(l); old != nil {
		old.Close()
	}
}

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	format := logging.TextFormat
	if cfg.Logging.Format == "json" {
		format = logging.JSONFormat
	}
	logger := logging.New(&logging.Config{Level: level, Format: format, Output: os.Stdout, EnableSanitizing: true})

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open task store", map[string]any{"error": err.Error()})
		os.Exit(2)
	}
	defer closeStore()

	dedup := queue.NewBloomDedupGuard(1_000_000, 0.001)
	registry := engine.DefaultRegistry(nil)
	svc := queue.New(store, queue.Defaults{
		Priority:   cfg.API.DefaultPriority,
		MaxRetries: cfg.API.DefaultMaxRetries,
	}, dedup, registry)

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)
	breakers := resilience.NewBreakerRegistry(nil)

	srv := api.New(api.Config{
		UploadRoot:     cfg.Storage.UploadRoot,
		OutputRoot:     cfg.Storage.OutputRoot,
		MaxUploadSize:  cfg.API.MaxUploadSizeBytes,
		RequestTimeout: time.Duration(cfg.API.MaxRequestTimeoutSeconds) * time.Second,
	}, svc, breakers, metricsRegistry, reg, logger)
	defer srv.Close()

	limiter := &swappableLimiter{}
	limiter.set(ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.API.RateLimitPerMinute,
		RequestsPerHour:   cfg.API.RateLimitPerMinute * 20,
		MaxConcurrent:     50,
	}))
	defer limiter.set(nil)

	if err := os.MkdirAll(cfg.Storage.UploadRoot, 0o755); err != nil {
		logger.Error("failed to prepare upload root", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Storage.OutputRoot, 0o755); err != nil {
		logger.Error("failed to prepare output root", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	if watcher, err := config.WatchFile(*configPath, func(next *config.Config) {
		ignored := cfg.ApplyLiveReloadable(next)
		if len(ignored) > 0 {
			logger.WithField("ignored_fields", ignored).Warn("config reload left some fields unchanged")
		}
		if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			logger.SetLevel(lvl)
		}
		limiter.set(ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.API.RateLimitPerMinute,
			RequestsPerHour:   cfg.API.RateLimitPerMinute * 20,
			MaxConcurrent:     50,
		}))
	}); err == nil {
		defer watcher.Close()
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Network.APIPort),
		Handler: srv.Router(limiter),
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	sched := maintenance.New(maintenance.Config{
		StaleTimeoutMinutes: cfg.Maintenance.StaleTimeoutMinutes,
		ResetInterval:       time.Duration(cfg.Maintenance.ResetIntervalMinutes) * time.Minute,
		PurgeRetentionDays:  cfg.Maintenance.PurgeRetentionDays,
		PurgeInterval:       time.Duration(cfg.Maintenance.PurgeIntervalHours) * time.Hour,
		ArtifactRoot:        cfg.Storage.OutputRoot,
	}, svc, metricsRegistry, logger)
	go func() {
		if err := sched.Run(schedulerCtx); err != nil {
			logger.Error("maintenance scheduler stopped unexpectedly", map[string]any{"error": err.Error()})
		}
	}()

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api facade listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", map[string]any{"error": err.Error()})
			os.Exit(3)
		}
	}()

	waitForShutdown(httpServer, logger)
}

func openStore(cfg *config.Config) (task.Store, func(), error) {
	if cfg.Storage.ConnectionString == "" {
		return memstore.New(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.New(ctx, &postgres.Config{ConnectionString: cfg.Storage.ConnectionString})
	if err != nil {
		return nil, nil, err
	}
	if err := store.MigrateToLatest(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return store, store.Close, nil
}

func waitForShutdown(srv *http.Server, logger *logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
}
