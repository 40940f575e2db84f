package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/security"
	"github.com/parsehaven/docforge/pkg/task"
)

// removeArtifactDir best-effort deletes a task's result directory during
// purge; failures are not fatal since the database row is the source of
// truth and an orphaned directory is a disk-cleanup concern, not a
// correctness one.
func removeArtifactDir(dir string) {
	_ = security.SecureRemoveTree(dir)
}

// ensure Store satisfies the task.Store interface at compile time.
var _ task.Store = (*Store)(nil)

func (s *Store) Insert(ctx context.Context, t *task.Task) error {
	if err := task.ValidateForInsert(t); err != nil {
		return err
	}
	options, err := json.Marshal(t.Options)
	if err != nil {
		return coreerr.Wrap(coreerr.KindInvalidInput, "failed to marshal task options", err)
	}
	now := time.Now().UTC()

	return s.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `
			INSERT INTO tasks (
				task_id, owner_user_id, file_name, file_path, backend, options,
				priority, status, created_at, updated_at, retry_count, max_retries
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $11)
		`, t.TaskID, t.OwnerUserID, t.FileName, t.FilePath, t.Backend, options,
			t.Priority, string(task.StatusPending), now, t.RetryCount, t.MaxRetries)
		if err != nil {
			if isUniqueViolation(err) {
				return coreerr.New(coreerr.KindConflict, "task_id already exists")
			}
			return fmt.Errorf("insert task: %w", err)
		}

		if err := insertEvent(ctx, tx, t.TaskID, "", string(task.StatusPending), now, "submitted"); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) GetByID(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.KindNotFound, "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ClaimNext atomically claims the highest-priority, oldest pending task
// whose backend is in allowedBackends (or any backend if empty), using a
// single UPDATE ... WHERE task_id = (SELECT ... FOR UPDATE SKIP LOCKED) statement so
// concurrent workers never observe or claim the same row twice.
func (s *Store) ClaimNext(ctx context.Context, workerID string, allowedBackends []string) (*task.Task, error) {
	now := time.Now().UTC()
	var row pgx.Row

	if len(allowedBackends) == 0 {
		row = s.pool.QueryRow(ctx, `
			UPDATE tasks SET status = 'processing', worker_id = $1, started_at = $2, updated_at = $2
			WHERE task_id = (
				SELECT task_id FROM tasks
				WHERE status = 'pending'
				ORDER BY priority DESC, created_at ASC, task_id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+returningColumns, workerID, now)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE tasks SET status = 'processing', worker_id = $1, started_at = $2, updated_at = $2
			WHERE task_id = (
				SELECT task_id FROM tasks
				WHERE status = 'pending' AND backend = ANY($3)
				ORDER BY priority DESC, created_at ASC, task_id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+returningColumns, workerID, now, allowedBackends)
	}

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerr.New(coreerr.KindNotFound, "no pending task available")
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return insertEvent(ctx, tx, t.TaskID, string(task.StatusPending), string(task.StatusProcessing), now, "claimed by "+workerID)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) Heartbeat(ctx context.Context, taskID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET updated_at = $1
		WHERE task_id = $2 AND worker_id = $3 AND status = 'processing'
	`, time.Now().UTC(), taskID, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, taskID)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, taskID, workerID, resultDir, markdownFile, jsonFile string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'completed', completed_at = $1, updated_at = $1,
				result_dir = $2, markdown_file = $3, json_file = $4
			WHERE task_id = $5 AND worker_id = $6 AND status = 'processing'
		`, now, resultDir, markdownFile, jsonFile, taskID, workerID)
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.conflictOrNotFoundTx(ctx, tx, taskID)
		}
		return insertEvent(ctx, tx, taskID, string(task.StatusProcessing), string(task.StatusCompleted), now, "")
	})
}

func (s *Store) Fail(ctx context.Context, taskID, workerID, errMsg string, retryable bool) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var retryCount, maxRetries int
		err := tx.QueryRow(ctx, `
			SELECT retry_count, max_retries FROM tasks
			WHERE task_id = $1 AND worker_id = $2 AND status = 'processing'
			FOR UPDATE
		`, taskID, workerID).Scan(&retryCount, &maxRetries)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.conflictOrNotFoundTx(ctx, tx, taskID)
		}
		if err != nil {
			return fmt.Errorf("lock task for failure: %w", err)
		}

		if retryable && retryCount < maxRetries {
			_, err := tx.Exec(ctx, `
				UPDATE tasks SET status = 'pending', worker_id = NULL, started_at = NULL,
					updated_at = $1, retry_count = retry_count + 1, error_message = $2
				WHERE task_id = $3
			`, now, errMsg, taskID)
			if err != nil {
				return fmt.Errorf("retry task: %w", err)
			}
			return insertEvent(ctx, tx, taskID, string(task.StatusProcessing), string(task.StatusPending), now, errMsg)
		}

		_, err = tx.Exec(ctx, `
			UPDATE tasks SET status = 'failed', completed_at = $1, updated_at = $1, error_message = $2
			WHERE task_id = $3
		`, now, errMsg, taskID)
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		return insertEvent(ctx, tx, taskID, string(task.StatusProcessing), string(task.StatusFailed), now, errMsg)
	})
}

func (s *Store) Cancel(ctx context.Context, taskID string) (bool, error) {
	now := time.Now().UTC()
	var inFlight bool

	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return coreerr.New(coreerr.KindNotFound, "task not found")
		}
		if err != nil {
			return fmt.Errorf("lock task for cancel: %w", err)
		}

		switch task.Status(status) {
		case task.StatusPending:
			_, err = tx.Exec(ctx, `
				UPDATE tasks SET status = 'cancelled', completed_at = $1, updated_at = $1 WHERE task_id = $2
			`, now, taskID)
			if err != nil {
				return fmt.Errorf("cancel pending task: %w", err)
			}
			inFlight = false
			return insertEvent(ctx, tx, taskID, status, string(task.StatusCancelled), now, "")
		case task.StatusProcessing:
			_, err = tx.Exec(ctx, `
				UPDATE tasks SET cancel_requested = TRUE, updated_at = $1 WHERE task_id = $2
			`, now, taskID)
			if err != nil {
				return fmt.Errorf("request cancel: %w", err)
			}
			inFlight = true
			return insertEvent(ctx, tx, taskID, status, status, now, "cancel requested")
		default:
			return coreerr.New(coreerr.KindConflict, "task already reached a terminal state")
		}
	})
	if err != nil {
		return false, err
	}
	return inFlight, nil
}

func (s *Store) FinishCancelled(ctx context.Context, taskID, workerID string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'cancelled', completed_at = $1, updated_at = $1
			WHERE task_id = $2 AND worker_id = $3 AND status = 'processing' AND cancel_requested = TRUE
		`, now, taskID, workerID)
		if err != nil {
			return fmt.Errorf("finish cancelled task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.conflictOrNotFoundTx(ctx, tx, taskID)
		}
		return insertEvent(ctx, tx, taskID, string(task.StatusProcessing), string(task.StatusCancelled), now, "cancelled after cooperative stop")
	})
}

func (s *Store) ResetStale(ctx context.Context, thresholdSeconds int64) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(thresholdSeconds) * time.Second)
	count := 0

	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT task_id, retry_count, max_retries FROM tasks
			WHERE status = 'processing' AND started_at < $1
			FOR UPDATE
		`, cutoff)
		if err != nil {
			return fmt.Errorf("select stale tasks: %w", err)
		}
		type stale struct {
			taskID               string
			retryCount, maxRetry int
		}
		var staleTasks []stale
		for rows.Next() {
			var st stale
			if err := rows.Scan(&st.taskID, &st.retryCount, &st.maxRetry); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale task: %w", err)
			}
			staleTasks = append(staleTasks, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, st := range staleTasks {
			newCount, exhausted := task.NextRetry(st.retryCount, st.maxRetry)
			if exhausted {
				_, err = tx.Exec(ctx, `
					UPDATE tasks SET status = 'failed', completed_at = $1, updated_at = $1,
						retry_count = $2, error_message = 'stale: no heartbeat within threshold'
					WHERE task_id = $3
				`, now, newCount, st.taskID)
				if err == nil {
					err = insertEvent(ctx, tx, st.taskID, string(task.StatusProcessing), string(task.StatusFailed), now, "stale")
				}
			} else {
				_, err = tx.Exec(ctx, `
					UPDATE tasks SET status = 'pending', worker_id = NULL, started_at = NULL,
						updated_at = $1, retry_count = $2
					WHERE task_id = $3
				`, now, newCount, st.taskID)
				if err == nil {
					err = insertEvent(ctx, tx, st.taskID, string(task.StatusProcessing), string(task.StatusPending), now, "stale, requeued")
				}
			}
			if err != nil {
				return fmt.Errorf("resolve stale task %s: %w", st.taskID, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) PurgeOld(ctx context.Context, retentionDays int, artifactRoot string) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, result_dir FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select purgeable tasks: %w", err)
	}
	var ids []string
	var dirs []*string
	for rows.Next() {
		var id string
		var dir *string
		if err := rows.Scan(&id, &dir); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan purgeable task: %w", err)
		}
		ids = append(ids, id)
		dirs = append(dirs, dir)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, dir := range dirs {
		if dir != nil && *dir != "" {
			removeArtifactDir(*dir)
		}
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete purged tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Stats(ctx context.Context) (task.Stats, error) {
	var stats task.Stats
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan stats row: %w", err)
		}
		switch task.Status(status) {
		case task.StatusPending:
			stats.Pending = n
		case task.StatusProcessing:
			stats.Processing = n
		case task.StatusCompleted:
			stats.Completed = n
		case task.StatusFailed:
			stats.Failed = n
		case task.StatusCancelled:
			stats.Cancelled = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func (s *Store) List(ctx context.Context, filter task.ListFilter) ([]*task.Task, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE 1=1"
	args := []any{}
	argN := 1

	if filter.OwnerUserID != "" {
		where += fmt.Sprintf(" AND owner_user_id = $%d", argN)
		args = append(args, filter.OwnerUserID)
		argN++
	}
	if filter.HasStatus {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(filter.Status))
		argN++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	args = append(args, limit, filter.Offset)
	query := selectColumns + " " + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func (s *Store) Events(ctx context.Context, taskID string) ([]task.Event, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, taskID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return nil, coreerr.New(coreerr.KindNotFound, "task not found")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, from_status, to_status, at, detail FROM task_events
		WHERE task_id = $1 ORDER BY at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []task.Event
	for rows.Next() {
		var e task.Event
		if err := rows.Scan(&e.TaskID, &e.FromStatus, &e.ToStatus, &e.At, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

const selectColumns = `SELECT task_id, owner_user_id, file_name, file_path, backend, options,
	priority, status, worker_id, created_at, started_at, completed_at, updated_at,
	retry_count, max_retries, error_message, result_dir, markdown_file, json_file, cancel_requested
	FROM tasks`

const returningColumns = `task_id, owner_user_id, file_name, file_path, backend, options,
	priority, status, worker_id, created_at, started_at, completed_at, updated_at,
	retry_count, max_retries, error_message, result_dir, markdown_file, json_file, cancel_requested`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (*task.Task, error) {
	var t task.Task
	var options []byte
	var status string

	err := row.Scan(
		&t.TaskID, &t.OwnerUserID, &t.FileName, &t.FilePath, &t.Backend, &options,
		&t.Priority, &status, &t.WorkerID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.UpdatedAt,
		&t.RetryCount, &t.MaxRetries, &t.ErrorMessage, &t.ResultDir, &t.MarkdownFile, &t.JSONFile, &t.CancelRequested,
	)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &t.Options); err != nil {
			return nil, fmt.Errorf("unmarshal task options: %w", err)
		}
	}
	return &t, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, taskID, from, to string, at time.Time, detail string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO task_events (task_id, from_status, to_status, at, detail) VALUES ($1, $2, $3, $4, $5)
	`, taskID, from, to, at, detail)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return s.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) conflictOrNotFound(ctx context.Context, taskID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	return coreerr.New(coreerr.KindConflict, "task is not owned by this worker or is not processing")
}

func (s *Store) conflictOrNotFoundTx(ctx context.Context, tx pgx.Tx, taskID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return coreerr.New(coreerr.KindNotFound, "task not found")
	}
	return coreerr.New(coreerr.KindConflict, "task is not owned by this worker or is not processing")
}

func isUniqueViolation(err error) bool {
	return containsAny(err.Error(), "duplicate key value violates unique constraint")
}
