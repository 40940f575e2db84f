// Package task defines the central Task entity and the invariants that
// every Store implementation (in-memory or Postgres) must uphold.
package task

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is absorbing: completed, failed,
// or cancelled tasks never mutate again except hard deletion.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the central record of a document-preprocessing job.
type Task struct {
	TaskID      string
	OwnerUserID string
	FileName    string
	FilePath    string
	Backend     string
	Options     map[string]any
	Priority    int
	Status      Status

	WorkerID  *string
	CreatedAt time.Time
	StartedAt *time.Time
	CompletedAt *time.Time
	UpdatedAt time.Time

	RetryCount int
	MaxRetries int

	ErrorMessage *string

	ResultDir    *string
	MarkdownFile *string
	JSONFile     *string

	// CancelRequested backs the cooperative-cancellation flag of a
	// processing task: set synchronously by Cancel, observed by the
	// worker through the adapter's callback and again after the adapter
	// returns, before it calls FinishCancelled.
	CancelRequested bool
}

// Event is one row of the append-only state-transition audit log.
type Event struct {
	TaskID     string
	FromStatus Status
	ToStatus   Status
	At         time.Time
	Detail     string
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the store's own bookkeeping (pointer fields are copied, not
// shared).
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.WorkerID != nil {
		v := *t.WorkerID
		clone.WorkerID = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.ErrorMessage != nil {
		v := *t.ErrorMessage
		clone.ErrorMessage = &v
	}
	if t.ResultDir != nil {
		v := *t.ResultDir
		clone.ResultDir = &v
	}
	if t.MarkdownFile != nil {
		v := *t.MarkdownFile
		clone.MarkdownFile = &v
	}
	if t.JSONFile != nil {
		v := *t.JSONFile
		clone.JSONFile = &v
	}
	if t.Options != nil {
		opts := make(map[string]any, len(t.Options))
		for k, v := range t.Options {
			opts[k] = v
		}
		clone.Options = opts
	}
	return &clone
}
