// Command docforge-admin is an operator CLI for configuration and
// maintenance tasks that don't need the HTTP facade running: init/show/
// validate a config file, print queue stats, and trigger reset-stale or
// purge-old against the configured store. Flag style follows the
// teacher's noisefs-config tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/config"
	"github.com/parsehaven/docforge/pkg/engine"
	"github.com/parsehaven/docforge/pkg/queue"
	"github.com/parsehaven/docforge/pkg/task"
	"github.com/parsehaven/docforge/pkg/task/memstore"
	"github.com/parsehaven/docforge/pkg/task/postgres"
)

func main() {
	var (
		initFlag       = flag.Bool("init", false, "write a default configuration file")
		showFlag       = flag.Bool("show", false, "print the current configuration")
		validateFlag   = flag.Bool("validate", false, "validate the configuration file")
		statsFlag      = flag.Bool("stats", false, "print queue statistics")
		resetStale     = flag.Bool("reset-stale", false, "reclaim tasks claimed past the stale timeout")
		cleanup        = flag.Bool("cleanup", false, "purge terminal tasks past retention")
		path           = flag.String("config", "", "configuration file path")
		timeoutMinutes = flag.Int("timeout-minutes", 0, "override stale timeout for -reset-stale")
		retentionDays  = flag.Int("retention-days", 0, "override purge retention for -cleanup")
	)
	flag.Parse()

	switch {
	case *initFlag:
		initConfig(*path)
	case *showFlag:
		showConfig(*path)
	case *validateFlag:
		validateConfig(*path)
	case *statsFlag:
		withStore(*path, printStats)
	case *resetStale:
		withStore(*path, func(cfg *config.Config, svc *queue.Service) { runResetStale(cfg, svc, *timeoutMinutes) })
	case *cleanup:
		withStore(*path, func(cfg *config.Config, svc *queue.Service) { runCleanup(cfg, svc, *retentionDays) })
	default:
		flag.Usage()
	}
}

func initConfig(path string) {
	cfg := config.Default()
	if path == "" {
		path = "docforge.json"
	}
	if err := cfg.SaveToFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("default configuration saved to: %s\n", path)
}

func showConfig(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func validateConfig(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("configuration is valid")
}

func withStore(path string, fn func(cfg *config.Config, svc *queue.Service)) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := engine.DefaultRegistry(nil)
	svc := queue.New(store, queue.Defaults{Priority: cfg.API.DefaultPriority, MaxRetries: cfg.API.DefaultMaxRetries}, nil, registry)
	fn(cfg, svc)
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

func adminPrincipal() auth.Principal {
	return auth.ForRole("docforge-admin-cli", auth.RoleAdmin)
}

func printStats(_ *config.Config, svc *queue.Service) {
	stats, err := svc.Stats(context.Background(), adminPrincipal())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch stats: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func runResetStale(cfg *config.Config, svc *queue.Service, timeoutMinutes int) {
	if timeoutMinutes <= 0 {
		timeoutMinutes = cfg.Maintenance.StaleTimeoutMinutes
	}
	count, err := svc.ResetStale(context.Background(), adminPrincipal(), int64(timeoutMinutes)*60)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reset-stale failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("reclaimed %d stale task(s)\n", count)
}

func runCleanup(cfg *config.Config, svc *queue.Service, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = cfg.Maintenance.PurgeRetentionDays
	}
	count, err := svc.PurgeOld(context.Background(), adminPrincipal(), retentionDays, cfg.Storage.OutputRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("purged %d terminal task(s)\n", count)
}
