package task

import "context"

// ListFilter narrows a List call.
type ListFilter struct {
	// OwnerUserID restricts results to one owner; empty means
	// unrestricted (the caller is expected to have already checked
	// global-view permission before leaving this empty).
	OwnerUserID string
	Status      Status
	// HasStatus distinguishes "filter by empty status" (none) from
	// "no status filter at all".
	HasStatus bool
	Limit     int
	Offset    int
}

// Stats is the per-status task count snapshot.
type Stats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Cancelled  int64
	Total      int64
}

// Store is the durable, concurrency-safe persistence layer for Task
// rows (spec §4.1). Both memstore and postgres implement it, sharing
// ValidateForInsert and NextRetry from this package.
type Store interface {
	// Insert adds a brand-new pending task. Fails with
	// coreerr.KindConflict if task_id already exists.
	Insert(ctx context.Context, t *Task) error

	// GetByID returns the full row or coreerr.KindNotFound.
	GetByID(ctx context.Context, taskID string) (*Task, error)

	// ClaimNext atomically selects one pending task matching
	// allowedBackends (unfiltered if empty), ordered by
	// (priority DESC, created_at ASC, task_id ASC), and transitions it
	// to processing. Returns coreerr.KindNotFound if none match.
	ClaimNext(ctx context.Context, workerID string, allowedBackends []string) (*Task, error)

	// Heartbeat bumps UpdatedAt for a task the calling worker still
	// owns. ResetStale judges staleness by StartedAt, so a heartbeat
	// does not delay reclaiming a task.
	Heartbeat(ctx context.Context, taskID, workerID string) error

	// Complete transitions processing -> completed. Fails with
	// coreerr.KindConflict if the task is not processing or workerID
	// does not match the current owner.
	Complete(ctx context.Context, taskID, workerID string, resultDir, markdownFile, jsonFile string) error

	// Fail classifies a worker-reported failure. If retryable and
	// RetryCount < MaxRetries, the task returns to pending with
	// RetryCount+1; otherwise it becomes failed.
	Fail(ctx context.Context, taskID, workerID string, errMsg string, retryable bool) error

	// Cancel cancels a pending task outright, or flags a processing
	// task for cooperative cancellation. inFlight reports whether it
	// was a flag-only request.
	Cancel(ctx context.Context, taskID string) (inFlight bool, err error)

	// FinishCancelled transitions a processing task that had
	// CancelRequested set to the terminal cancelled state, once the
	// worker has stopped work and discarded any partial artifact. Fails
	// with coreerr.KindConflict if the task is not processing, is not
	// owned by workerID, or never had cancellation requested.
	FinishCancelled(ctx context.Context, taskID, workerID string) error

	// ResetStale reclaims tasks stuck in processing past threshold.
	ResetStale(ctx context.Context, threshold int64) (count int, err error)

	// PurgeOld deletes terminal tasks older than the retention cutoff
	// and best-effort removes their artifact directories under
	// artifactRoot.
	PurgeOld(ctx context.Context, retentionDays int, artifactRoot string) (count int, err error)

	// Stats returns counts per status.
	Stats(ctx context.Context) (Stats, error)

	// List returns tasks matching filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]*Task, int, error)

	// Events returns the append-only transition log for one task,
	// oldest first.
	Events(ctx context.Context, taskID string) ([]Event, error)
}
