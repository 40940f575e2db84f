// Command docforge-worker runs the claim/execute loop against the task
// store: one worker.Runtime per configured device slot, following the
// teacher's flags-plus-typed-config main-package shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parsehaven/docforge/pkg/config"
	"github.com/parsehaven/docforge/pkg/engine"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/metrics"
	"github.com/parsehaven/docforge/pkg/resilience"
	"github.com/parsehaven/docforge/pkg/task"
	"github.com/parsehaven/docforge/pkg/task/memstore"
	"github.com/parsehaven/docforge/pkg/task/postgres"
	"github.com/parsehaven/docforge/pkg/worker"
)

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

	registry := engine.DefaultRegistry(binaryPathsFromEnv())
	breakers := resilience.NewBreakerRegistry(nil)
	metricsRegistry := metrics.NewRegistry(prometheus.NewRegistry())

	if err := os.MkdirAll(cfg.Storage.OutputRoot, 0o755); err != nil {
		logger.Error("failed to prepare output root", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, device := range cfg.Devices() {
		for slot := 0; slot < cfg.Workers.WorkersPerDevice; slot++ {
			workerID := fmt.Sprintf("device-%s-%d", device, slot)
			rt := worker.New(worker.Config{
				WorkerID:        workerID,
				AllowedBackends: cfg.Backends(),
				PollInterval:    time.Duration(cfg.Workers.PollIntervalMS) * time.Millisecond,
				OutputRoot:      cfg.Storage.OutputRoot,
			}, store, registry, breakers, metricsRegistry, logger)

			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.WithField("worker_id", workerID).Info("worker runtime starting")
				rt.Run(ctx)
			}()
		}
	}

	waitForShutdown(cancel, logger)
	wg.Wait()
}

// binaryPathsFromEnv resolves external engine binaries from
// DOCFORGE_ENGINE_<BACKEND> environment variables, leaving unset
// backends to the registry's synthetic fallback.
func binaryPathsFromEnv() map[string]string {
	paths := map[string]string{}
	for _, backend := range []string{"pipeline", "paddleocr-vl", "markitdown", "sensevoice", "video", "fasta", "genbank"} {
		envKey := "DOCFORGE_ENGINE_" + normalizeEnvKey(backend)
		if v := os.Getenv(envKey); v != "" {
			paths[backend] = v
		}
	}
	return paths
}

func normalizeEnvKey(backend string) string {
	out := make([]byte, len(backend))
	for i := 0; i < len(backend); i++ {
		c := backend[i]
		if c == '-' {
			c = '_'
		} else if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
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
	return store, store.Close, nil
}

func waitForShutdown(cancel context.CancelFunc, logger *logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down worker runtimes")
	cancel()
}
