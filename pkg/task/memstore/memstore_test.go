package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/task"
	"github.com/parsehaven/docforge/pkg/task/memstore"
)

func newTask(id, owner, backend string, priority int) *task.Task {
	return &task.Task{
		TaskID:      id,
		OwnerUserID: owner,
		FileName:    id + ".pdf",
		FilePath:    "/tmp/" + id + ".pdf",
		Backend:     backend,
		Status:      task.StatusPending,
		Priority:    priority,
		MaxRetries:  2,
	}
}

func TestInsertRejectsDuplicateTaskID(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	err := store.Insert(ctx, newTask("t1", "alice", "pipeline", 0))
	require.Error(t, err)
	assert.Equal(t, coreerr.KindConflict, coreerr.KindOf(err))
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	low := newTask("t-low", "alice", "pipeline", 0)
	high := newTask("t-high", "alice", "pipeline", 5)
	require.NoError(t, store.Insert(ctx, low))
	require.NoError(t, store.Insert(ctx, high))

	claimed, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "t-high", claimed.TaskID)
	assert.Equal(t, task.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-1", *claimed.WorkerID)
}

func TestClaimNextFiltersByAllowedBackends(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t-ocr", "alice", "paddleocr-vl", 0)))
	require.NoError(t, store.Insert(ctx, newTask("t-bio", "alice", "fasta", 0)))

	claimed, err := store.ClaimNext(ctx, "worker-1", []string{"fasta"})
	require.NoError(t, err)
	assert.Equal(t, "t-bio", claimed.TaskID)
}

func TestClaimNextReturnsNotFoundWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.Error(t, err)
	assert.Equal(t, coreerr.KindNotFound, coreerr.KindOf(err))
}

func TestFailRetriesUntilMaxRetriesThenTerminal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tk := newTask("t1", "alice", "pipeline", 0)
	tk.MaxRetries = 2
	require.NoError(t, store.Insert(ctx, tk))

	for i := 0; i < 2; i++ {
		claimed, err := store.ClaimNext(ctx, "worker-1", nil)
		require.NoError(t, err)
		require.NoError(t, store.Fail(ctx, claimed.TaskID, "worker-1", "boom", true))

		got, err := store.GetByID(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, i+1, got.RetryCount)
	}

	claimed, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, claimed.TaskID, "worker-1", "boom", true))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
}

func TestFailNonRetryableGoesStraightToFailed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tk := newTask("t1", "alice", "pipeline", 0)
	tk.MaxRetries = 5
	require.NoError(t, store.Insert(ctx, tk))

	claimed, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, claimed.TaskID, "worker-1", "fatal parse error", false))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestCancelPendingIsImmediate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))

	inFlight, err := store.Cancel(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, inFlight)

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestCancelProcessingFlagsCooperatively(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)

	inFlight, err := store.Cancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, inFlight)

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessing, got.Status)
	assert.True(t, got.CancelRequested)
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.Cancel(ctx, "t1")
	require.NoError(t, err)

	_, err = store.Cancel(ctx, "t1")
	require.Error(t, err)
	assert.Equal(t, coreerr.KindConflict, coreerr.KindOf(err))
}

func TestFinishCancelledTransitionsProcessingToCancelled(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)

	_, err = store.Cancel(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, store.FinishCancelled(ctx, "t1", "worker-1"))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestFinishCancelledRejectsWithoutPriorCancelRequest(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)

	err = store.FinishCancelled(ctx, "t1", "worker-1")
	require.Error(t, err)
	assert.Equal(t, coreerr.KindConflict, coreerr.KindOf(err))
}

func TestResetStaleReclaimsOrExhausts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	tk := newTask("t1", "alice", "pipeline", 0)
	tk.MaxRetries = 1
	require.NoError(t, store.Insert(ctx, tk))
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)

	count, err := store.ResetStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	_, err = store.ClaimNext(ctx, "worker-2", nil)
	require.NoError(t, err)
	count, err = store.ResetStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err = store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestListFiltersByOwnerAndStatus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	require.NoError(t, store.Insert(ctx, newTask("t2", "bob", "pipeline", 0)))
	_, err := store.Cancel(ctx, "t2")
	require.NoError(t, err)

	results, total, err := store.List(ctx, task.ListFilter{OwnerUserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].TaskID)

	results, total, err = store.List(ctx, task.ListFilter{HasStatus: true, Status: task.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "t2", results[0].TaskID)
}

func TestEventsRecordsLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.ClaimNext(ctx, "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "t1", "worker-1", "/tmp/out", "/tmp/out/doc.md", "/tmp/out/doc.json"))

	events, err := store.Events(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, task.StatusPending, events[0].ToStatus)
	assert.Equal(t, task.StatusProcessing, events[1].ToStatus)
	assert.Equal(t, task.StatusCompleted, events[2].ToStatus)
}

func TestPurgeOldRemovesOnlyTerminalPastRetention(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Insert(ctx, newTask("t1", "alice", "pipeline", 0)))
	_, err := store.Cancel(ctx, "t1")
	require.NoError(t, err)

	count, err := store.PurgeOld(ctx, 30, "/tmp/artifacts")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "fresh cancellation should not be purged yet")

	_, err = store.GetByID(ctx, "t1")
	require.NoError(t, err)
}
