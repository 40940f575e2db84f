// Package worker implements the long-lived claim/execute loop bound to
// one device slot (a GPU index or "cpu"). Each Runtime runs
// single-threaded cooperative: claim, resolve backend, invoke the
// engine adapter, classify the outcome, loop. Multiple Runtimes run in
// parallel as separate goroutines or processes, one per device slot.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/engine"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/metrics"
	"github.com/parsehaven/docforge/pkg/resilience"
	"github.com/parsehaven/docforge/pkg/task"
)

// Config configures a single Runtime instance.
type Config struct {
	WorkerID        string
	AllowedBackends []string
	PollInterval    time.Duration
	OutputRoot      string
}

// Runtime is one worker process's claim/execute loop.
type Runtime struct {
	cfg      Config
	store    task.Store
	registry *engine.Registry
	breakers *resilience.BreakerRegistry
	metrics  *metrics.Registry
	log      *logging.Logger
}

// New builds a Runtime. breakers may be nil, in which case a registry
// with default per-backend breaker settings is used. m may be nil to
// disable metrics recording.
func New(cfg Config, store task.Store, registry *engine.Registry, breakers *resilience.BreakerRegistry, m *metrics.Registry, log *logging.Logger) *Runtime {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if breakers == nil {
		breakers = resilience.NewBreakerRegistry(nil)
	}
	return &Runtime{cfg: cfg, store: store, registry: registry, breakers: breakers, metrics: m, log: log.WithComponent("worker")}
}

// Run blocks in the claim/execute loop until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handled, err := r.claimAndExecuteOne(ctx)
		if err != nil && coreerr.KindOf(err) != coreerr.KindNotFound {
			r.log.Error("claim cycle failed", map[string]any{"error": err.Error()})
		}
		if !handled {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
}

// claimAndExecuteOne claims at most one task and processes it fully.
// It returns handled=true if a task was claimed, regardless of whether
// that task ultimately succeeded.
func (r *Runtime) claimAndExecuteOne(ctx context.Context) (handled bool, err error) {
	t, err := r.store.ClaimNext(ctx, r.cfg.WorkerID, r.cfg.AllowedBackends)
	if err != nil {
		return false, err
	}

	r.log.WithField("task_id", t.TaskID).WithField("backend", t.Backend).Info("claimed task")
	if r.metrics != nil {
		r.metrics.RecordClaim()
	}
	if hbErr := r.store.Heartbeat(ctx, t.TaskID, r.cfg.WorkerID); hbErr != nil {
		r.log.Error("heartbeat after claim failed", map[string]any{"task_id": t.TaskID, "error": hbErr.Error()})
	}

	breaker := r.breakers.Get(t.Backend)
	outputDir := filepath.Join(r.cfg.OutputRoot, t.TaskID)

	var result engine.ParseResult
	start := time.Now()
	execErr := breaker.Execute(ctx, func(ctx context.Context) error {
		adapter, resolveErr := r.registry.Resolve(t.Backend)
		if resolveErr != nil {
			return resolveErr
		}
		var parseErr error
		result, parseErr = adapter.Parse(ctx, engine.ParseInput{
			TaskID:          t.TaskID,
			FilePath:        t.FilePath,
			Options:         t.Options,
			OutputDir:       outputDir,
			CancelRequested: func() bool { return r.isCancelRequested(ctx, t.TaskID) },
		})
		return parseErr
	})
	if r.metrics != nil {
		r.metrics.RecordParseDuration(t.Backend, time.Since(start).Seconds())
		r.metrics.SetBreakerOpen(t.Backend, resilience.IsCircuitOpenError(execErr))
	}

	if execErr != nil {
		r.handleFailure(ctx, t, execErr)
		return true, nil
	}

	if r.isCancelRequested(ctx, t.TaskID) {
		r.log.WithField("task_id", t.TaskID).Info("discarding artifact for cancelled task")
		if outputDir != "" {
			_ = os.RemoveAll(outputDir)
		}
		if cancelErr := r.store.FinishCancelled(ctx, t.TaskID, r.cfg.WorkerID); cancelErr != nil {
			r.log.Error("failed to finalize cancelled task", map[string]any{"task_id": t.TaskID, "error": cancelErr.Error()})
		}
		if r.metrics != nil {
			r.metrics.RecordOutcome(t.Backend, "cancelled")
		}
		return true, nil
	}

	mdPath, jsonPath := "", ""
	if result.MarkdownFile != "" {
		mdPath = filepath.Join(outputDir, result.MarkdownFile)
	}
	if result.JSONFile != "" {
		jsonPath = filepath.Join(outputDir, result.JSONFile)
	}
	if completeErr := r.store.Complete(ctx, t.TaskID, r.cfg.WorkerID, outputDir, mdPath, jsonPath); completeErr != nil {
		r.log.Error("failed to record completion", map[string]any{"task_id": t.TaskID, "error": completeErr.Error()})
	}
	if hbErr := r.store.Heartbeat(ctx, t.TaskID, r.cfg.WorkerID); hbErr != nil && coreerr.KindOf(hbErr) != coreerr.KindConflict {
		r.log.Error("heartbeat after completion failed", map[string]any{"task_id": t.TaskID, "error": hbErr.Error()})
	}
	if r.metrics != nil {
		r.metrics.RecordOutcome(t.Backend, "completed")
	}
	return true, nil
}

func (r *Runtime) handleFailure(ctx context.Context, t *task.Task, execErr error) {
	retryable := engine.IsTransient(execErr) || resilience.IsCircuitOpenError(execErr)
	r.log.WithField("task_id", t.TaskID).WithField("retryable", retryable).Warn(fmt.Sprintf("task failed: %v", execErr))

	if failErr := r.store.Fail(ctx, t.TaskID, r.cfg.WorkerID, execErr.Error(), retryable); failErr != nil {
		r.log.Error("failed to record failure", map[string]any{"task_id": t.TaskID, "error": failErr.Error()})
	}
	if hbErr := r.store.Heartbeat(ctx, t.TaskID, r.cfg.WorkerID); hbErr != nil && coreerr.KindOf(hbErr) != coreerr.KindConflict {
		r.log.Error("heartbeat after failure failed", map[string]any{"task_id": t.TaskID, "error": hbErr.Error()})
	}
	if r.metrics != nil {
		outcome := "failed"
		if retryable {
			outcome = "retried"
		}
		r.metrics.RecordOutcome(t.Backend, outcome)
	}
}

// isCancelRequested re-reads the task row to check the cooperative
// cancellation flag; errors are treated as "not cancelled" since a
// transient read failure should not abort in-flight work.
func (r *Runtime) isCancelRequested(ctx context.Context, taskID string) bool {
	t, err := r.store.GetByID(ctx, taskID)
	if err != nil {
		return false
	}
	return t.CancelRequested
}
