// Package memstore is an in-process, mutex-guarded task.Store used for
// tests and for single-node "cpu"-only deployments that don't need a
// real database. It enforces exactly the same invariants as
// pkg/task/postgres, taking the store mutex for the whole
// find-and-update span to get claim atomicity without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/security"
	"github.com/parsehaven/docforge/pkg/task"
)

// Store is an in-memory task.Store.
type Store struct {
	mu     sync.Mutex
	tasks  map[string]*task.Task
	events map[string][]task.Event
	now    func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:  make(map[string]*task.Task),
		events: make(map[string][]task.Event),
		now:    time.Now,
	}
}

func (s *Store) record(taskID string, from, to task.Status, detail string) {
	s.events[taskID] = append(s.events[taskID], task.Event{
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
		At:         s.now().UTC(),
		Detail:     detail,
	})
}

func (s *Store) Insert(_ context.Context, t *task.Task) error {
	if err := task.ValidateForInsert(t); err != nil {
		return coreerr.Wrap(coreerr.KindInvalidInput, "invalid task", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.TaskID]; exists {
		return coreerr.New(coreerr.KindConflict, "task_id already exists")
	}
	now := s.now().UTC()
	clone := t.Clone()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.tasks[t.TaskID] = clone
	s.record(t.TaskID, "", task.StatusPending, "submitted")
	return nil
}

func (s *Store) GetByID(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	return t.Clone(), nil
}

func allowed(backend string, allowedBackends []string) bool {
	if len(allowedBackends) == 0 {
		return true
	}
	for _, b := range allowedBackends {
		if b == backend {
			return true
		}
	}
	return false
}

// ClaimNext implements the ordering of spec §3.2(7): priority DESC,
// created_at ASC, task_id lexicographic ASC as the final tie-break.
func (s *Store) ClaimNext(_ context.Context, workerID string, allowedBackends []string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusPending && allowed(t.Backend, allowedBackends) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, coreerr.New(coreerr.KindNotFound, "no pending task available")
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TaskID < b.TaskID
	})

	chosen := candidates[0]
	now := s.now().UTC()
	chosen.Status = task.StatusProcessing
	wid := workerID
	chosen.WorkerID = &wid
	chosen.StartedAt = &now
	chosen.UpdatedAt = now
	s.record(chosen.TaskID, task.StatusPending, task.StatusProcessing, "claimed by "+workerID)
	return chosen.Clone(), nil
}

func (s *Store) Heartbeat(_ context.Context, taskID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	if t.Status != task.StatusProcessing || t.WorkerID == nil || *t.WorkerID != workerID {
		return coreerr.New(coreerr.KindConflict, "task not owned by worker")
	}
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Complete(_ context.Context, taskID, workerID string, resultDir, markdownFile, jsonFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	if t.Status != task.StatusProcessing {
		return coreerr.New(coreerr.KindConflict, "task is not processing")
	}
	if t.WorkerID == nil || *t.WorkerID != workerID {
		return coreerr.New(coreerr.KindConflict, "task owned by a different worker")
	}
	now := s.now().UTC()
	t.Status = task.StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.ResultDir = strPtr(resultDir)
	if markdownFile != "" {
		t.MarkdownFile = strPtr(markdownFile)
	}
	if jsonFile != "" {
		t.JSONFile = strPtr(jsonFile)
	}
	s.record(taskID, task.StatusProcessing, task.StatusCompleted, "completed")
	return nil
}

func (s *Store) Fail(_ context.Context, taskID, workerID string, errMsg string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	if t.Status != task.StatusProcessing {
		return coreerr.New(coreerr.KindConflict, "task is not processing")
	}
	if t.WorkerID == nil || *t.WorkerID != workerID {
		return coreerr.New(coreerr.KindConflict, "task owned by a different worker")
	}

	now := s.now().UTC()
	t.ErrorMessage = strPtr(errMsg)
	t.UpdatedAt = now

	if retryable && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = task.StatusPending
		t.WorkerID = nil
		t.StartedAt = nil
		s.record(taskID, task.StatusProcessing, task.StatusPending, "retryable failure: "+errMsg)
		return nil
	}

	t.Status = task.StatusFailed
	t.CompletedAt = &now
	s.record(taskID, task.StatusProcessing, task.StatusFailed, "terminal failure: "+errMsg)
	return nil
}

func (s *Store) FinishCancelled(_ context.Context, taskID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	if t.Status != task.StatusProcessing || !t.CancelRequested {
		return coreerr.New(coreerr.KindConflict, "task has no cancellation in progress")
	}
	if t.WorkerID == nil || *t.WorkerID != workerID {
		return coreerr.New(coreerr.KindConflict, "task owned by a different worker")
	}
	now := s.now().UTC()
	t.Status = task.StatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
	s.record(taskID, task.StatusProcessing, task.StatusCancelled, "cancelled after cooperative stop")
	return nil
}

func (s *Store) Cancel(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return false, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	switch t.Status {
	case task.StatusPending:
		now := s.now().UTC()
		t.Status = task.StatusCancelled
		t.CompletedAt = &now
		t.UpdatedAt = now
		s.record(taskID, task.StatusPending, task.StatusCancelled, "cancelled while pending")
		return false, nil
	case task.StatusProcessing:
		t.CancelRequested = true
		t.UpdatedAt = s.now().UTC()
		s.record(taskID, task.StatusProcessing, task.StatusProcessing, "cancellation requested")
		return true, nil
	default:
		return false, coreerr.New(coreerr.KindConflict, "task is already terminal")
	}
}

func (s *Store) ResetStale(_ context.Context, thresholdSeconds int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Duration(thresholdSeconds) * time.Second
	now := s.now().UTC()
	count := 0
	for id, t := range s.tasks {
		if t.Status != task.StatusProcessing || t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) <= threshold {
			continue
		}
		count++
		newRetry, exhausted := task.NextRetry(t.RetryCount, t.MaxRetries)
		t.RetryCount = newRetry
		t.UpdatedAt = now
		if exhausted {
			t.Status = task.StatusFailed
			t.ErrorMessage = strPtr("stale")
			t.CompletedAt = &now
			s.record(id, task.StatusProcessing, task.StatusFailed, "stale, retries exhausted")
		} else {
			t.Status = task.StatusPending
			t.WorkerID = nil
			t.StartedAt = nil
			s.record(id, task.StatusProcessing, task.StatusPending, "reclaimed stale task")
		}
	}
	return count, nil
}

func (s *Store) PurgeOld(_ context.Context, retentionDays int, artifactRoot string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	count := 0
	for id, t := range s.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		if t.ResultDir != nil && *t.ResultDir != "" {
			_ = security.SecureRemoveTree(*t.ResultDir)
		}
		delete(s.tasks, id)
		delete(s.events, id)
		count++
	}
	return count, nil
}

func (s *Store) Stats(_ context.Context) (task.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st task.Stats
	for _, t := range s.tasks {
		st.Total++
		switch t.Status {
		case task.StatusPending:
			st.Pending++
		case task.StatusProcessing:
			st.Processing++
		case task.StatusCompleted:
			st.Completed++
		case task.StatusFailed:
			st.Failed++
		case task.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *Store) List(_ context.Context, filter task.ListFilter) ([]*task.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*task.Task
	for _, t := range s.tasks {
		if filter.OwnerUserID != "" && t.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.HasStatus && t.Status != filter.Status {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*task.Task{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*task.Task, 0, end-offset)
	for _, t := range matched[offset:end] {
		out = append(out, t.Clone())
	}
	return out, total, nil
}

func (s *Store) Events(_ context.Context, taskID string) ([]task.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	out := make([]task.Event, len(s.events[taskID]))
	copy(out, s.events[taskID])
	return out, nil
}

func strPtr(s string) *string { return &s }
