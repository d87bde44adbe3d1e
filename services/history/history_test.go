package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"groupsync/lib/money"
	"groupsync/lib/sqliteutil"
	"groupsync/services/executor"
	"groupsync/services/history/db"
	"groupsync/services/instruct"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) *Store {
	database, err := sqliteutil.OpenDB(db.Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := NewStore(database)
	clock := time.Unix(1700000000, 0)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	runId, err := store.StartRun(ctx, RunInfo{Store: "竞潮玩电竞馆", PoiID: "7001", Engine: "llm"})
	require.NoError(t, err)
	require.Len(t, runId, 36)

	var recorder executor.Recorder = store
	err = recorder.RecordOperation(ctx, runId, executor.Result{
		Operation: executor.Operation{
			Mode:      executor.ModeUpdate,
			ProductID: "1",
			Draft:     instruct.Draft{Title: "【新客】19.9得50网费", Price: money.New(19.9), OriginPrice: money.New(50)},
			Reason:    "同为新客网费",
		},
		Status: executor.StatusSuccess,
	})
	require.NoError(t, err)
	err = recorder.RecordOperation(ctx, runId, executor.Result{
		Operation:    executor.Operation{Mode: executor.ModeCreate, Draft: instruct.Draft{Title: "5小时包时", Price: money.New(39.9)}},
		Status:       executor.StatusFailed,
		NewProductID: "900",
		Err:          errors.New("timed out"),
	})
	require.NoError(t, err)

	run, err := store.GetRun(ctx, runId)
	require.NoError(t, err)
	require.True(t, run.FinishedAt.IsZero())

	err = store.FinishRun(ctx, runId, executor.Report{Success: 1, Failed: 1, Skipped: 3})
	require.NoError(t, err)

	run, err = store.GetRun(ctx, runId)
	require.NoError(t, err)
	require.Equal(t, "竞潮玩电竞馆", run.Store)
	require.Equal(t, "7001", run.PoiID)
	require.Equal(t, "llm", run.Engine)
	require.False(t, run.DryRun)
	require.Equal(t, 1, run.Success)
	require.Equal(t, 1, run.Failed)
	require.Equal(t, 3, run.Skipped)
	require.True(t, run.FinishedAt.After(run.StartedAt))

	ops, err := store.RunOperations(ctx, runId)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, "update", ops[0].Mode)
	require.Equal(t, "1", ops[0].ProductID)
	require.Equal(t, int64(1990), ops[0].Price.Cents())
	require.Equal(t, int64(5000), ops[0].OriginPrice.Cents())
	require.Equal(t, "同为新客网费", ops[0].Reason)
	require.Equal(t, "", ops[0].Error)
	require.Equal(t, "failed", ops[1].Status)
	require.Equal(t, "900", ops[1].NewProductID)
	require.Equal(t, "timed out", ops[1].Error)

	_, err = store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := store.StartRun(ctx, RunInfo{Store: name, PoiID: "1", Engine: "heuristic", DryRun: name == "b"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, ids[2], runs[0].ID)
	require.Equal(t, ids[1], runs[1].ID)
	require.True(t, runs[1].DryRun)
}

func TestPrune(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	old, err := store.StartRun(ctx, RunInfo{Store: "old"})
	require.NoError(t, err)
	require.NoError(t, store.RecordOperation(ctx, old, executor.Result{
		Operation: executor.Operation{Mode: executor.ModeRetire, ProductID: "1"},
		Status:    executor.StatusSuccess,
	}))
	cutoff := store.now()
	recent, err := store.StartRun(ctx, RunInfo{Store: "recent"})
	require.NoError(t, err)

	require.NoError(t, store.Prune(ctx, cutoff))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, recent, runs[0].ID)

	ops, err := store.RunOperations(ctx, old)
	require.NoError(t, err)
	require.Empty(t, ops)
}
