package approval

import (
	"context"
	"fmt"
	"sort"

	"intent-guard/internal/intentlog"
	"intent-guard/internal/interfaces"
	"intent-guard/internal/logger"
	"intent-guard/internal/state"
	"intent-guard/internal/types"
)

// Service orchestrates preview/approve/reject/list over the intent journal
// and the state store. The state store record is authoritative for status;
// the journal's latest row is the fallback for intents the store has never
// seen.
type Service struct {
	store *state.Store
	log   *intentlog.Log
}

func NewService(store *state.Store, log *intentlog.Log) *Service {
	return &Service{store: store, log: log}
}

// PreviewResult is an intent plus its currently resolved status.
type PreviewResult struct {
	Intent types.Intent `json:"intent"`
	Status types.State  `json:"status"`
}

// ApproveRequest asks the service to approve (and possibly execute) one
// intent. An empty IntentID targets the most recently created intent.
type ApproveRequest struct {
	IntentID         string
	ExecutionEnabled bool
	Executor         interfaces.Executor
}

// ApproveResult reports an approval attempt. Blocked results are expected
// policy outcomes, not errors: the intent was already rejected, already
// claimed by a concurrent caller, or lost the execution-claim race. Conflict
// marks the concurrency flavor of blocked, where another caller holds or won
// the claim.
type ApproveResult struct {
	IntentID  string                 `json:"intent_id"`
	Status    types.State            `json:"status"`
	Blocked   bool                   `json:"blocked,omitempty"`
	Conflict  bool                   `json:"conflict,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Note      string                 `json:"note,omitempty"`
	Execution *types.ExecutionResult `json:"execution,omitempty"`
}

// ExecutionError wraps an executor failure after the failed state was
// recorded, so callers can tell execution faults from infrastructure errors.
type ExecutionError struct {
	IntentID string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for intent %s: %v", e.IntentID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RejectResult reports a rejection attempt.
type RejectResult struct {
	IntentID string      `json:"intent_id"`
	Status   types.State `json:"status"`
	Blocked  bool        `json:"blocked,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// ListRow is one deduplicated row in the recent-intents view.
type ListRow struct {
	IntentID string        `json:"intent_id"`
	Time     string        `json:"ts"`
	Status   types.State   `json:"status"`
	Intent   *types.Intent `json:"intent,omitempty"`
}

// Preview resolves an intent and its current status without mutating
// anything. id == "" targets the most recently created intent.
func (s *Service) Preview(ctx context.Context, id string) (PreviewResult, error) {
	intent, status, err := s.resolve(ctx, id)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Intent: intent, Status: status}, nil
}

// Reject records a rejected marker for the intent. Rejection is only legal
// from pending_approval; anything already approved or beyond is blocked with
// a message naming the conflicting state.
func (s *Service) Reject(ctx context.Context, id, reason string) (RejectResult, error) {
	intent, status, err := s.resolve(ctx, id)
	if err != nil {
		return RejectResult{}, err
	}

	switch status {
	case types.StateApproved, types.StateExecuting, types.StateExecuted:
		return RejectResult{
			IntentID: intent.IntentID,
			Status:   status,
			Blocked:  true,
			Message:  fmt.Sprintf("cannot reject intent in state %q", status),
		}, nil
	}

	res, err := s.store.Transition(ctx, state.TransitionRequest{
		IntentID: intent.IntentID,
		To:       types.StateRejected,
		Reason:   reason,
	})
	if err != nil {
		return RejectResult{}, err
	}
	logger.Transition(ctx, intent.IntentID, string(status), string(types.StateRejected), reason)
	_ = s.log.Append(intentlog.Record{
		IntentID: intent.IntentID,
		Status:   string(types.StateRejected),
		Reason:   reason,
	})
	return RejectResult{IntentID: intent.IntentID, Status: res.Record.State}, nil
}

// Approve runs the full approval flow:
//
//  1. An already-executed intent returns its cached execution result; the
//     executor is never invoked twice.
//  2. An already-rejected intent refuses.
//  3. An intent currently executing was claimed by a concurrent caller:
//     refuse, naming the conflicting state.
//  4. Otherwise move pending_approval -> approved; stop there when execution
//     is administratively disabled.
//  5. Claim approved -> executing via the conditional update; losing that
//     race is a blocked result, not an error.
//  6. Invoke the executor. Success records executed with the payload;
//     failure records failed with the error as reason, then the error
//     propagates so the caller observes it.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (ApproveResult, error) {
	op := logger.StartOperation(ctx, "approval.approve", "intent_id", req.IntentID)
	ctx = op.GetContext()

	intent, status, err := s.resolve(ctx, req.IntentID)
	if err != nil {
		op.EndWithError(err)
		return ApproveResult{}, err
	}

	if status == types.StateExecuted {
		cached, err := s.cachedExecution(ctx, intent.IntentID)
		if err != nil {
			op.EndWithError(err)
			return ApproveResult{}, err
		}
		op.End("status", string(types.StateExecuted), "cached", true)
		return ApproveResult{
			IntentID:  intent.IntentID,
			Status:    types.StateExecuted,
			Note:      "already executed",
			Execution: cached,
		}, nil
	}
	if status == types.StateRejected || status == types.StateFailed {
		op.End("status", string(status))
		return ApproveResult{
			IntentID: intent.IntentID,
			Status:   status,
			Blocked:  true,
			Message:  fmt.Sprintf("cannot approve intent in terminal state %q", status),
		}, nil
	}
	if status == types.StateExecuting {
		op.End("status", string(types.StateExecuting))
		return ApproveResult{
			IntentID: intent.IntentID,
			Status:   types.StateExecuting,
			Blocked:  true,
			Conflict: true,
			Message:  "intent is already executing: claimed by a concurrent caller",
		}, nil
	}

	if status != types.StateApproved {
		if _, err := s.store.Transition(ctx, state.TransitionRequest{
			IntentID:     intent.IntentID,
			To:           types.StateApproved,
			ExpectedFrom: types.StatePendingApproval,
			Reason:       "operator_approval",
		}); err != nil {
			if state.IsCASConflict(err) {
				op.End("blocked", true)
				return ApproveResult{
					IntentID: intent.IntentID,
					Status:   status,
					Blocked:  true,
					Conflict: true,
					Message:  err.Error(),
				}, nil
			}
			op.EndWithError(err)
			return ApproveResult{}, err
		}
		logger.Transition(ctx, intent.IntentID, string(types.StatePendingApproval), string(types.StateApproved), "operator_approval")
		_ = s.log.Append(intentlog.Record{
			IntentID: intent.IntentID,
			Status:   string(types.StateApproved),
			Reason:   "operator_approval",
		})
	}

	if !req.ExecutionEnabled {
		op.End("status", string(types.StateApproved))
		return ApproveResult{
			IntentID: intent.IntentID,
			Status:   types.StateApproved,
			Note:     "execution disabled: intent approved but not executed",
		}, nil
	}

	// The one transition that must be exclusive: claim execution.
	if _, err := s.store.Transition(ctx, state.TransitionRequest{
		IntentID:     intent.IntentID,
		To:           types.StateExecuting,
		ExpectedFrom: types.StateApproved,
		Reason:       "execution_claim",
	}); err != nil {
		if state.IsCASConflict(err) {
			op.End("blocked", true)
			return ApproveResult{
				IntentID: intent.IntentID,
				Status:   types.StateApproved,
				Blocked:  true,
				Conflict: true,
				Message:  "lost execution claim: " + err.Error(),
			}, nil
		}
		op.EndWithError(err)
		return ApproveResult{}, err
	}
	logger.Transition(ctx, intent.IntentID, string(types.StateApproved), string(types.StateExecuting), "execution_claim")

	result, execErr := req.Executor.Execute(ctx, intent)
	if execErr != nil {
		// The failed state must be durably recorded before the error
		// surfaces, so retrying callers observe a terminal state.
		if _, terr := s.store.Transition(ctx, state.TransitionRequest{
			IntentID:     intent.IntentID,
			To:           types.StateFailed,
			ExpectedFrom: types.StateExecuting,
			Reason:       execErr.Error(),
		}); terr != nil {
			logger.ErrorWithErr(ctx, "Failed to record execution failure", terr, "intent_id", intent.IntentID)
		}
		_ = s.log.Append(intentlog.Record{
			IntentID: intent.IntentID,
			Status:   string(types.StateFailed),
			Reason:   execErr.Error(),
		})
		logger.Execution(ctx, intent.IntentID, intent.Symbol, false, "")
		op.EndWithError(execErr)
		return ApproveResult{}, &ExecutionError{IntentID: intent.IntentID, Err: execErr}
	}

	if _, err := s.store.Transition(ctx, state.TransitionRequest{
		IntentID:     intent.IntentID,
		To:           types.StateExecuted,
		ExpectedFrom: types.StateExecuting,
		Reason:       "execution_complete",
		Execution:    executionMeta(result),
	}); err != nil {
		op.EndWithError(err)
		return ApproveResult{}, err
	}
	_ = s.log.Append(intentlog.Record{
		IntentID:  intent.IntentID,
		Status:    string(types.StateExecuted),
		Execution: &result,
	})
	logger.Execution(ctx, intent.IntentID, intent.Symbol, result.OK, result.OrderID)
	op.End("status", string(types.StateExecuted))
	return ApproveResult{
		IntentID:  intent.IntentID,
		Status:    types.StateExecuted,
		Execution: &result,
	}, nil
}

// List returns the most recent limit intents, one row per intent id, latest
// status wins. limit <= 0 returns all.
func (s *Service) List(ctx context.Context, limit int) ([]ListRow, error) {
	latest, err := s.log.LatestByIntent()
	if err != nil {
		return nil, err
	}

	rows := make([]ListRow, 0, len(latest))
	for id, rec := range latest {
		row := ListRow{
			IntentID: id,
			Time:     rec.Time,
			Status:   types.State(rec.Status),
			Intent:   rec.Intent,
		}
		// The state store is authoritative where it has a record.
		if stored, found, err := s.store.Get(ctx, id); err != nil {
			return nil, err
		} else if found {
			row.Status = stored.State
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Time != rows[j].Time {
			return rows[i].Time > rows[j].Time
		}
		return rows[i].IntentID > rows[j].IntentID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// resolve finds the intent payload and its current status. An empty id
// targets the most recently created intent in the journal.
func (s *Service) resolve(ctx context.Context, id string) (types.Intent, types.State, error) {
	records, err := s.log.ReadAll()
	if err != nil {
		return types.Intent{}, "", err
	}

	if id == "" {
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].Intent != nil {
				id = records[i].IntentID
				break
			}
		}
		if id == "" {
			return types.Intent{}, "", fmt.Errorf("no created intents in journal")
		}
	}

	var intent *types.Intent
	status := types.State("")
	for _, r := range records {
		if r.IntentID != id {
			continue
		}
		if r.Intent != nil {
			intent = r.Intent
		}
		if r.Status != "" {
			status = types.State(r.Status)
		}
	}
	if intent == nil {
		return types.Intent{}, "", fmt.Errorf("intent %s not found in journal", id)
	}

	if stored, found, err := s.store.Get(ctx, id); err != nil {
		return types.Intent{}, "", err
	} else if found {
		status = stored.State
	}
	if status == "" {
		status = types.StatePendingApproval
	}
	return *intent, status, nil
}

// cachedExecution digs the recorded execution payload out of the state-store
// journal, falling back to the intent log.
func (s *Service) cachedExecution(ctx context.Context, id string) (*types.ExecutionResult, error) {
	entries, err := s.store.ListJournal(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if len(entries[i].Execution) > 0 {
			return executionFromMeta(entries[i].Execution), nil
		}
	}

	latest, err := s.log.LatestByIntent()
	if err != nil {
		return nil, err
	}
	if rec, ok := latest[id]; ok && rec.Execution != nil {
		return rec.Execution, nil
	}
	return nil, nil
}

// executionMeta flattens an ExecutionResult into the journal's meta shape.
func executionMeta(r types.ExecutionResult) map[string]any {
	m := map[string]any{"ok": r.OK}
	if r.OrderID != "" {
		m["order_id"] = r.OrderID
	}
	for k, v := range r.Detail {
		m[k] = v
	}
	return m
}

// executionFromMeta is the inverse adapter at the journal read boundary.
func executionFromMeta(m map[string]any) *types.ExecutionResult {
	res := types.ExecutionResult{Detail: map[string]any{}}
	for k, v := range m {
		switch k {
		case "ok":
			if b, ok := v.(bool); ok {
				res.OK = b
			}
		case "order_id":
			if s, ok := v.(string); ok {
				res.OrderID = s
			}
		default:
			res.Detail[k] = v
		}
	}
	if len(res.Detail) == 0 {
		res.Detail = nil
	}
	return &res
}
