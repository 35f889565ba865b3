package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var (
	objA = ObjectID{Namespace: "public", Name: "orders"}
	objB = ObjectID{Namespace: "public", Name: "invoices"}
)

func TestEnqueue_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inserted, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	assert.True(t, inserted)

	for i := 0; i < 2; i++ {
		inserted, err = store.Enqueue(ctx, objA, PhaseOut)
		require.NoError(t, err)
		assert.False(t, inserted, "second enqueue must be a no-op")
	}

	items, err := store.List(ctx, PhaseOut)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, objA, items[0].Object)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Nil(t, items[0].LastUpdated)
}

func TestEnqueue_RejectsUnknownPhase(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Enqueue(context.Background(), objA, Phase(3))
	assert.Error(t, err)
}

func TestListPending_OrderedByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, obj := range []ObjectID{objB, objA, {Namespace: "sales", Name: "lines"}} {
		_, err := store.Enqueue(ctx, obj, PhaseOut)
		require.NoError(t, err)
	}

	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, objB, items[0].Object)
	assert.Equal(t, objA, items[1].Object)
	assert.Less(t, items[0].ID, items[1].ID)
	assert.Less(t, items[1].ID, items[2].ID)
}

func TestTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	id := items[0].ID

	require.NoError(t, store.MarkInProgress(ctx, id))
	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.NotNil(t, item.LastUpdated)

	require.NoError(t, store.MarkFailed(ctx, id, "tier not found"))
	item, err = store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, "tier not found", item.LastError)

	// A failed item may be driven again.
	require.NoError(t, store.MarkInProgress(ctx, id))
	require.NoError(t, store.MarkCompleted(ctx, id))
	item, err = store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, 2, item.Attempts)
	assert.Empty(t, item.LastError)

	// Completing twice violates the single-attempt discipline.
	err = store.MarkCompleted(ctx, id)
	require.Error(t, err)
	assert.True(t, IsConsistency(err))

	err = store.MarkInProgress(ctx, id)
	assert.True(t, IsConsistency(err), "completed items cannot be restarted")
}

func TestReleaseItem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	id := items[0].ID

	// Only in-progress items can be released.
	err = store.ReleaseItem(ctx, id, "interrupted")
	assert.True(t, IsConsistency(err))

	require.NoError(t, store.MarkInProgress(ctx, id))
	require.NoError(t, store.ReleaseItem(ctx, id, "interrupted"))

	pending, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.Equal(t, "interrupted", pending[0].LastError)

	require.NoError(t, store.MarkInProgress(ctx, id))
	require.NoError(t, store.MarkCompleted(ctx, id))
}

func TestGetItem_Missing(t *testing.T) {
	store := openTestStore(t)
	item, err := store.GetItem(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func completeItem(t *testing.T, store *SQLiteStore, id int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.MarkInProgress(ctx, id))
	require.NoError(t, store.MarkCompleted(ctx, id))
}

func TestPromotePhase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, obj := range []ObjectID{objA, objB} {
		_, err := store.Enqueue(ctx, obj, PhaseOut)
		require.NoError(t, err)
	}
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)

	completeItem(t, store, items[0].ID)
	require.NoError(t, store.MarkInProgress(ctx, items[1].ID))
	require.NoError(t, store.MarkFailed(ctx, items[1].ID, "boom"))

	promoted, err := store.PromotePhase(ctx, PhaseOut, StatusCompleted, PhaseBack, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	promoted, err = store.PromotePhase(ctx, PhaseOut, StatusCompleted, PhaseBack, StatusPending)
	require.NoError(t, err)
	assert.Zero(t, promoted, "second promotion must not duplicate rows")

	pending, err := store.ListPending(ctx, PhaseBack)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, objA, pending[0].Object)
	assert.Nil(t, pending[0].LastUpdated)

	// Phase 1 history stays in place.
	phaseOne, err := store.List(ctx, PhaseOut)
	require.NoError(t, err)
	assert.Len(t, phaseOne, 2)
}

func TestPromotePhase_DoesNotResurrectCompletedPhaseTwo(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	completeItem(t, store, items[0].ID)

	_, err = store.PromotePhase(ctx, PhaseOut, StatusCompleted, PhaseBack, StatusPending)
	require.NoError(t, err)
	back, err := store.ListPending(ctx, PhaseBack)
	require.NoError(t, err)
	completeItem(t, store, back[0].ID)

	promoted, err := store.PromotePhase(ctx, PhaseOut, StatusCompleted, PhaseBack, StatusPending)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	all, err := store.List(ctx, PhaseBack)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCompleted, all[0].Status)
}

func TestWorkLog_OpenClose(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	workID := items[0].ID

	logID, err := store.OpenEntry(ctx, workID, objA, PhaseOut)
	require.NoError(t, err)
	assert.NotZero(t, logID)

	err = store.CloseEntry(ctx, EntryKey{WorkID: workID, Phase: PhaseOut}, OutcomeError, "tier not found")
	require.NoError(t, err)

	entries, err := store.Entries(ctx, workID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Open())
	assert.Equal(t, OutcomeError, entries[0].Status)
	assert.Equal(t, "tier not found", entries[0].ErrorMessage)

	// Nothing left to close.
	err = store.CloseEntry(ctx, EntryKey{WorkID: workID, Phase: PhaseOut}, OutcomeSuccess, "")
	assert.True(t, IsConsistency(err))

	err = store.CloseEntry(ctx, EntryKey{LogID: logID}, OutcomeSuccess, "")
	assert.True(t, IsConsistency(err))
}

func TestWorkLog_CloseEntryRejectsDuplicateOpen(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	workID := items[0].ID

	_, err = store.OpenEntry(ctx, workID, objA, PhaseOut)
	require.NoError(t, err)
	_, err = store.OpenEntry(ctx, workID, objA, PhaseOut)
	require.NoError(t, err)

	err = store.CloseEntry(ctx, EntryKey{WorkID: workID, Phase: PhaseOut}, OutcomeSuccess, "")
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, workID, ce.WorkID)

	entries, err := store.Entries(ctx, workID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Open(), "failed close must not touch any entry")
	}
}

func TestRecovery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, objA, PhaseOut)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	id := items[0].ID

	require.NoError(t, store.MarkInProgress(ctx, id))
	_, err = store.OpenEntry(ctx, id, objA, PhaseOut)
	require.NoError(t, err)

	reset, err := store.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	closed, err := store.CloseAbandoned(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	pending, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	entries, err := store.Entries(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeError, entries[0].Status)
	assert.Equal(t, "abandoned", entries[0].ErrorMessage)
}

func TestRetryFailedAndSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, obj := range []ObjectID{objA, objB} {
		_, err := store.Enqueue(ctx, obj, PhaseOut)
		require.NoError(t, err)
	}
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	require.NoError(t, store.MarkInProgress(ctx, items[0].ID))
	require.NoError(t, store.MarkFailed(ctx, items[0].ID, "boom"))

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []StatusCount{
		{Phase: PhaseOut, Status: StatusFailed, Count: 1},
		{Phase: PhaseOut, Status: StatusPending, Count: 1},
	}, summary)

	n, err := store.RetryFailed(ctx, PhaseOut)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestAbandonFailed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, obj := range []ObjectID{objA, objB} {
		_, err := store.Enqueue(ctx, obj, PhaseOut)
		require.NoError(t, err)
	}
	items, err := store.ListPending(ctx, PhaseOut)
	require.NoError(t, err)
	failed := items[0].ID
	require.NoError(t, store.MarkInProgress(ctx, failed))
	require.NoError(t, store.MarkFailed(ctx, failed, "relation does not exist"))
	completeItem(t, store, items[1].ID)

	n, err := store.AbandonFailed(ctx, PhaseOut)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	item, err := store.GetItem(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, item.Status)
	assert.Equal(t, "relation does not exist", item.LastError)

	err = store.MarkInProgress(ctx, failed)
	assert.True(t, IsConsistency(err), "abandoned items are not driven again")

	n, err = store.RetryFailed(ctx, PhaseOut)
	require.NoError(t, err)
	assert.Zero(t, n)

	promoted, err := store.PromotePhase(ctx, PhaseOut, StatusCompleted, PhaseBack, StatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, promoted, "only the completed item moves to phase two")
}

func TestRuns_ResumeUnfinished(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run, resumed, err := store.BeginRun(ctx)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEmpty(t, run.ID)

	again, resumed, err := store.BeginRun(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, run.ID, again.ID)

	require.NoError(t, store.FinishRun(ctx, run.ID))

	next, resumed, err := store.BeginRun(ctx)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, run.ID, next.ID)
}

func TestSnapshots_CapturedOncePerRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run, _, err := store.BeginRun(ctx)
	require.NoError(t, err)

	inserted, err := store.SaveSnapshot(ctx, Snapshot{RunID: run.ID, Object: objA, Definition: "v1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.SaveSnapshot(ctx, Snapshot{RunID: run.ID, Object: objA, Definition: "v2"})
	require.NoError(t, err)
	assert.False(t, inserted)

	snap, err := store.GetSnapshot(ctx, run.ID, objA)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "v1", snap.Definition)

	missing, err := store.GetSnapshot(ctx, run.ID, objB)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.SaveSnapshot(ctx, Snapshot{RunID: run.ID, Object: objB, Definition: "b"})
	require.NoError(t, err)
	snaps, err := store.Snapshots(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, objB, snaps[0].Object, "ordered by namespace then name")
}

func TestOpen_SecondExecutorLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrLedgerLocked)

	require.NoError(t, first.Close())
	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestClosedStore(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Enqueue(context.Background(), objA, PhaseOut)
	assert.ErrorIs(t, err, ErrClosed)
}
