package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-guard/internal/intentlog"
	"intent-guard/internal/interfaces"
	"intent-guard/internal/state"
	"intent-guard/internal/types"
)

type countingExecutor struct {
	calls  atomic.Int64
	result types.ExecutionResult
	err    error
}

func (e *countingExecutor) Execute(_ context.Context, _ types.Intent) (types.ExecutionResult, error) {
	e.calls.Add(1)
	if e.err != nil {
		return types.ExecutionResult{}, e.err
	}
	return e.result, nil
}

func newTestService(t *testing.T) (*Service, *state.Store, *intentlog.Log) {
	t.Helper()
	dir := t.TempDir()
	store, err := state.Open(filepath.Join(dir, "intents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	log := intentlog.New(filepath.Join(dir, "logs"))
	return NewService(store, log), store, log
}

func seedIntent(t *testing.T, svc *Service, store *state.Store, log *intentlog.Log, id string) types.Intent {
	t.Helper()
	intent := types.Intent{
		IntentID:  id,
		Action:    types.ActionBuy,
		Symbol:    "INFY",
		Qty:       10,
		Price:     1500,
		OrderType: types.OrderTypeLimit,
	}
	_, err := store.EnsureIntent(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, log.Append(intentlog.Record{
		IntentID: id,
		Status:   string(types.StatePendingApproval),
		Intent:   &intent,
	}))
	return intent
}

func TestApproveAndExecute(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	exec := &countingExecutor{result: types.ExecutionResult{OK: true, OrderID: "ord-1"}}
	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	assert.Equal(t, types.StateExecuted, res.Status)
	require.NotNil(t, res.Execution)
	assert.Equal(t, "ord-1", res.Execution.OrderID)
	assert.Equal(t, int64(1), exec.calls.Load())

	rec, found, err := store.Get(ctx, "it-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateExecuted, rec.State)
}

func TestApproveExecutedReturnsCachedResult(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	exec := &countingExecutor{result: types.ExecutionResult{OK: true, OrderID: "ord-1"}}
	_, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)

	// Second approve never reaches the executor.
	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, types.StateExecuted, res.Status)
	assert.Equal(t, "already executed", res.Note)
	require.NotNil(t, res.Execution)
	assert.Equal(t, "ord-1", res.Execution.OrderID)
	assert.True(t, res.Execution.OK)
	assert.Equal(t, int64(1), exec.calls.Load())
}

func TestApproveRejectedRefuses(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	rej, err := svc.Reject(ctx, "it-1", "operator said no")
	require.NoError(t, err)
	assert.False(t, rej.Blocked)
	assert.Equal(t, types.StateRejected, rej.Status)

	exec := &countingExecutor{}
	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, types.StateRejected, res.Status)
	assert.Equal(t, int64(0), exec.calls.Load())
}

func TestApproveWhileExecutingRefuses(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	// Simulate a concurrent caller holding the execution claim.
	_, err := store.Transition(ctx, state.TransitionRequest{IntentID: "it-1", To: types.StateApproved})
	require.NoError(t, err)
	_, err = store.Transition(ctx, state.TransitionRequest{IntentID: "it-1", To: types.StateExecuting})
	require.NoError(t, err)

	exec := &countingExecutor{}
	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, types.StateExecuting, res.Status)
	assert.Contains(t, res.Message, "executing")
	assert.Equal(t, int64(0), exec.calls.Load())
}

func TestApproveExecutionDisabled(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1"})
	require.NoError(t, err)
	assert.Equal(t, types.StateApproved, res.Status)
	assert.Contains(t, res.Note, "execution disabled")

	// A later approve with execution enabled continues from approved.
	exec := &countingExecutor{result: types.ExecutionResult{OK: true, OrderID: "ord-2"}}
	res, err = svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, types.StateExecuted, res.Status)
	assert.Equal(t, int64(1), exec.calls.Load())
}

func TestApproveExecutorFailureRecordsFailed(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	execErr := errors.New("broker timeout")
	exec := &countingExecutor{err: execErr}
	_, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.Error(t, err)
	assert.ErrorIs(t, err, execErr)

	rec, found, err := store.Get(ctx, "it-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateFailed, rec.State)

	// Retrying a failed intent refuses rather than re-executing.
	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, types.StateFailed, res.Status)
	assert.Equal(t, int64(1), exec.calls.Load())

	entries, err := store.ListJournal(ctx, "it-1", 0)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, types.StateFailed, last.ToState)
	assert.Equal(t, "broker timeout", last.Reason)
}

func TestRejectBlockedAfterApproval(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	_, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1"})
	require.NoError(t, err)

	res, err := svc.Reject(ctx, "it-1", "too late")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Message, string(types.StateApproved))
}

func TestPreviewDefaultsToLatestCreated(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")
	second := seedIntent(t, svc, store, log, "it-2")

	res, err := svc.Preview(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.IntentID, res.Intent.IntentID)
	assert.Equal(t, types.StatePendingApproval, res.Status)
}

func TestPreviewUnknownIntent(t *testing.T) {
	svc, store, log := newTestService(t)
	seedIntent(t, svc, store, log, "it-1")
	_, err := svc.Preview(context.Background(), "nope")
	assert.Error(t, err)
}

func TestPreviewStatusFromStateStore(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	// State store record wins over the journal's stale row.
	_, err := store.Transition(ctx, state.TransitionRequest{IntentID: "it-1", To: types.StateApproved})
	require.NoError(t, err)

	res, err := svc.Preview(ctx, "it-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateApproved, res.Status)
}

func TestListDedupedLatestWins(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")
	seedIntent(t, svc, store, log, "it-2")
	seedIntent(t, svc, store, log, "it-3")

	_, err := svc.Reject(ctx, "it-2", "no")
	require.NoError(t, err)

	rows, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byID := map[string]ListRow{}
	for _, r := range rows {
		byID[r.IntentID] = r
		require.NotNil(t, r.Intent, "creation payload must survive folding")
	}
	assert.Equal(t, types.StateRejected, byID["it-2"].Status)
	assert.Equal(t, types.StatePendingApproval, byID["it-1"].Status)

	limited, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFullApprovalScenario(t *testing.T) {
	svc, store, log := newTestService(t)
	ctx := context.Background()
	seedIntent(t, svc, store, log, "it-1")

	pv, err := svc.Preview(ctx, "it-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatePendingApproval, pv.Status)

	var _ interfaces.Executor = (*countingExecutor)(nil)
	exec := &countingExecutor{result: types.ExecutionResult{
		OK:      true,
		OrderID: "ord-9",
		Detail:  map[string]any{"avg_price": 1500.5},
	}}

	res, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, types.StateExecuted, res.Status)

	// Rejection after execution refuses.
	rej, err := svc.Reject(ctx, "it-1", "changed my mind")
	require.NoError(t, err)
	assert.True(t, rej.Blocked)

	// Re-approval surfaces the cached payload including broker detail.
	again, err := svc.Approve(ctx, ApproveRequest{IntentID: "it-1", ExecutionEnabled: true, Executor: exec})
	require.NoError(t, err)
	require.NotNil(t, again.Execution)
	assert.Equal(t, "ord-9", again.Execution.OrderID)
	assert.InDelta(t, 1500.5, again.Execution.Detail["avg_price"], 1e-9)
	assert.Equal(t, int64(1), exec.calls.Load())

	// The append-only journal carries every status the intent passed through.
	records, err := log.ReadAll()
	require.NoError(t, err)
	var statuses []string
	for _, r := range records {
		if r.IntentID == "it-1" {
			statuses = append(statuses, r.Status)
		}
	}
	assert.Equal(t, []string{
		string(types.StatePendingApproval),
		string(types.StateApproved),
		string(types.StateExecuted),
	}, statuses)
}
