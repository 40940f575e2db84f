// Package queue is the thin semantic layer between the API facade and
// the task store: it enforces Principal permissions and owner
// isolation, normalizes submitted fields, applies config-driven
// defaults, and translates store errors into the core taxonomy.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/engine"
	"github.com/parsehaven/docforge/pkg/task"
)

// Defaults holds the config-driven fallback values the Submit call
// applies when the caller omits priority or max_retries.
type Defaults struct {
	Priority   int
	MaxRetries int
}

// DedupGuard is implemented by an optional best-effort duplicate-
// submission filter (the bloom filter wiring); a nil DedupGuard
// disables the check entirely.
type DedupGuard interface {
	// Seen reports whether (owner, contentKey) was already observed,
	// recording it as seen as a side effect if it was not. False
	// positives are acceptable (the store's task_id remains the real
	// guarantee); false negatives are not.
	Seen(owner, contentKey string) bool
}

// SubmitRequest carries the caller-supplied fields for a new task.
type SubmitRequest struct {
	OwnerUserID string
	FileName    string
	FilePath    string
	Backend     string
	Options     map[string]any
	Priority    *int
	MaxRetries  *int
	// ContentKey identifies the uploaded bytes for the dedup guard
	// (e.g. a content hash); empty disables the check for this call.
	ContentKey string
}

// Service is the Queue Service.
type Service struct {
	store    task.Store
	defaults Defaults
	dedup    DedupGuard
	registry *engine.Registry
}

// New builds a Service over store with the given defaults. dedup may be
// nil to disable duplicate-submission detection. registry may be nil to
// skip backend validation entirely (e.g. in tests that don't care about
// it); when set, Submit rejects any backend it cannot resolve.
func New(store task.Store, defaults Defaults, dedup DedupGuard, registry *engine.Registry) *Service {
	return &Service{store: store, defaults: defaults, dedup: dedup, registry: registry}
}

// Submit validates permissions and fields, applies defaults, and
// inserts a new pending task.
func (s *Service) Submit(ctx context.Context, principal auth.Principal, req SubmitRequest) (*task.Task, error) {
	if err := auth.Require(principal, auth.TaskSubmit); err != nil {
		return nil, err
	}

	backend := normalizeBackend(req.Backend)
	if backend == "" {
		return nil, coreerr.New(coreerr.KindInvalidInput, "backend is required")
	}
	if s.registry != nil {
		if _, resolveErr := s.registry.Resolve(backend); resolveErr != nil {
			return nil, coreerr.Wrap(coreerr.KindInvalidInput, fmt.Sprintf("unrecognized backend %q", backend), resolveErr)
		}
	}
	if req.FilePath == "" {
		return nil, coreerr.New(coreerr.KindInvalidInput, "uploaded file path is required")
	}

	if s.dedup != nil && req.ContentKey != "" {
		if s.dedup.Seen(req.OwnerUserID, req.ContentKey) {
			return nil, coreerr.New(coreerr.KindConflict, "an identical file was already submitted recently")
		}
	}

	priority := s.defaults.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxRetries := s.defaults.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	t := &task.Task{
		TaskID:      uuid.NewString(),
		OwnerUserID: req.OwnerUserID,
		FileName:    req.FileName,
		FilePath:    req.FilePath,
		Backend:     backend,
		Options:     req.Options,
		Priority:    priority,
		Status:      task.StatusPending,
		MaxRetries:  maxRetries,
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID returns a task, enforcing owner isolation unless the
// principal has global-view.
func (s *Service) GetByID(ctx context.Context, principal auth.Principal, taskID string) (*task.Task, error) {
	if err := auth.Require(principal, auth.QueueView); err != nil {
		return nil, err
	}
	t, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccessOwner(principal, t.OwnerUserID) {
		return nil, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	return t, nil
}

// Cancel requests cancellation of a task, enforcing owner isolation.
func (s *Service) Cancel(ctx context.Context, principal auth.Principal, taskID string) (bool, error) {
	if err := auth.Require(principal, auth.TaskCancel); err != nil {
		return false, err
	}
	t, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !auth.CanAccessOwner(principal, t.OwnerUserID) {
		return false, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	return s.store.Cancel(ctx, taskID)
}

// List returns tasks matching filter, restricting OwnerUserID to the
// principal unless it has global-view.
func (s *Service) List(ctx context.Context, principal auth.Principal, filter task.ListFilter) ([]*task.Task, int, error) {
	if err := auth.Require(principal, auth.QueueView); err != nil {
		return nil, 0, err
	}
	if !principal.GlobalView {
		filter.OwnerUserID = principal.UserID
	}
	return s.store.List(ctx, filter)
}

// Stats returns queue-wide counts; available to any QueueView
// principal regardless of ownership, since counts carry no per-task
// detail.
func (s *Service) Stats(ctx context.Context, principal auth.Principal) (task.Stats, error) {
	if err := auth.Require(principal, auth.QueueView); err != nil {
		return task.Stats{}, err
	}
	return s.store.Stats(ctx)
}

// Events returns a task's transition history, owner-scoped like
// GetByID.
func (s *Service) Events(ctx context.Context, principal auth.Principal, taskID string) ([]task.Event, error) {
	t, err := s.GetByID(ctx, principal, taskID)
	if err != nil {
		return nil, err
	}
	return s.store.Events(ctx, t.TaskID)
}

// ResetStale and PurgeOld require QueueAdmin; exposed here so the admin
// HTTP handlers and the maintenance loop share one authorization path.

func (s *Service) ResetStale(ctx context.Context, principal auth.Principal, thresholdSeconds int64) (int, error) {
	if err := auth.Require(principal, auth.QueueAdmin); err != nil {
		return 0, err
	}
	return s.store.ResetStale(ctx, thresholdSeconds)
}

func (s *Service) PurgeOld(ctx context.Context, principal auth.Principal, retentionDays int, artifactRoot string) (int, error) {
	if err := auth.Require(principal, auth.QueueAdmin); err != nil {
		return 0, err
	}
	return s.store.PurgeOld(ctx, retentionDays, artifactRoot)
}

func normalizeBackend(backend string) string {
	return strings.ToLower(strings.TrimSpace(backend))
}
