package task

import "fmt"

// ValidateForInsert checks the invariants a new Task must already
// satisfy before Insert is called (spec §3.2).
func ValidateForInsert(t *Task) error {
	if t.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.OwnerUserID == "" {
		return fmt.Errorf("owner_user_id is required")
	}
	if t.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	if t.Status != StatusPending {
		return fmt.Errorf("new tasks must be pending, got %s", t.Status)
	}
	if t.RetryCount > t.MaxRetries {
		return fmt.Errorf("retry_count %d exceeds max_retries %d", t.RetryCount, t.MaxRetries)
	}
	if t.CompletedAt != nil {
		return fmt.Errorf("pending task cannot have completed_at set")
	}
	return nil
}

// NextRetry computes the post-reset state per spec §4.1's ResetStale
// contract: "increment retry_count; fail permanently if it now exceeds
// the cap". Fail does not use it: a failure that is not retried leaves
// retry_count unchanged.
func NextRetry(retryCount, maxRetries int) (newCount int, exhausted bool) {
	newCount = retryCount + 1
	exhausted = newCount > maxRetries
	return
}
