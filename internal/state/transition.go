package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"intent-guard/internal/types"
)

// Record is the current lifecycle row for one intent.
type Record struct {
	IntentID  string      `json:"intent_id"`
	State     types.State `json:"state"`
	UpdatedTS int64       `json:"updated_ts"`
	Version   int64       `json:"version"`
}

// JournalEntry is one appended transition attempt. FromState is empty for the
// initial creation entry.
type JournalEntry struct {
	ID        int64          `json:"id"`
	IntentID  string         `json:"intent_id"`
	TS        int64          `json:"ts"`
	FromState types.State    `json:"from_state"`
	ToState   types.State    `json:"to_state"`
	Reason    string         `json:"reason"`
	Meta      map[string]any `json:"meta,omitempty"`
	Execution map[string]any `json:"execution,omitempty"`
}

// TransitionRequest describes one requested state change.
// ExpectedFrom, when non-empty, makes the update conditional: it succeeds only
// if the stored state still matches, otherwise the caller lost a race and gets
// a CASConflictError.
type TransitionRequest struct {
	IntentID     string
	To           types.State
	ExpectedFrom types.State
	Reason       string
	Meta         map[string]any
	Execution    map[string]any
}

// TransitionResult reports the outcome of a successful transition.
// Changed is false for the idempotent terminal retry, which still writes a
// journal entry but does not bump the version.
type TransitionResult struct {
	Record  Record
	Changed bool
}

// EnsureIntent creates the lifecycle row for id in pending_approval if it
// does not exist, appending the init journal entry in the same transaction.
// Idempotent: returns the existing record when present.
func (s *Store) EnsureIntent(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("ensure intent: empty intent id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("ensure intent: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rec, found, err := getTx(ctx, tx, id)
	if err != nil {
		return Record{}, fmt.Errorf("ensure intent: %w", err)
	}
	if found {
		return rec, nil
	}

	now := time.Now().Unix()
	rec = Record{IntentID: id, State: types.StatePendingApproval, UpdatedTS: now, Version: 1}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intent_states (intent_id, state, updated_ts, version)
		VALUES (?, ?, ?, 1)
	`, id, string(rec.State), now); err != nil {
		return Record{}, fmt.Errorf("ensure intent: insert: %w", err)
	}

	if err := appendJournalTx(ctx, tx, JournalEntry{
		IntentID:  id,
		TS:        now,
		FromState: "",
		ToState:   types.StatePendingApproval,
		Reason:    "init",
	}); err != nil {
		return Record{}, fmt.Errorf("ensure intent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("ensure intent: commit: %w", err)
	}
	return rec, nil
}

// Transition applies one state change atomically: the conditional state
// update and the journal append commit together or not at all.
//
// The update statement itself carries the state condition, so at most one of
// any number of racing callers observes RowsAffected == 1; the rest get a
// CASConflictError and must re-read before deciding what to do next.
func (s *Store) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if req.IntentID == "" {
		return TransitionResult{}, fmt.Errorf("transition: empty intent id")
	}
	if req.ExpectedFrom != "" && !req.ExpectedFrom.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown state %q", ErrInvalidState, req.ExpectedFrom)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, found, err := getTx(ctx, tx, req.IntentID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition: %w", err)
	}
	now := time.Now().Unix()
	if !found {
		// First reference creates the row, same as EnsureIntent.
		rec = Record{IntentID: req.IntentID, State: types.StatePendingApproval, UpdatedTS: now, Version: 1}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO intent_states (intent_id, state, updated_ts, version)
			VALUES (?, ?, ?, 1)
		`, req.IntentID, string(rec.State), now); err != nil {
			return TransitionResult{}, fmt.Errorf("transition: create row: %w", err)
		}
		if err := appendJournalTx(ctx, tx, JournalEntry{
			IntentID:  req.IntentID,
			TS:        now,
			FromState: "",
			ToState:   types.StatePendingApproval,
			Reason:    "init",
		}); err != nil {
			return TransitionResult{}, fmt.Errorf("transition: %w", err)
		}
	}

	if req.ExpectedFrom != "" && rec.State != req.ExpectedFrom {
		return TransitionResult{}, &CASConflictError{
			IntentID: req.IntentID,
			Expected: req.ExpectedFrom,
			Actual:   rec.State,
		}
	}

	changed, err := applyCheck(rec.State, req.To)
	if err != nil {
		return TransitionResult{}, err
	}

	var result sql.Result
	if changed {
		result, err = tx.ExecContext(ctx, `
			UPDATE intent_states
			SET state = ?, updated_ts = ?, version = version + 1
			WHERE intent_id = ? AND state = ?
		`, string(req.To), now, req.IntentID, string(rec.State))
	} else {
		// Idempotent terminal retry: refresh the timestamp, keep the version.
		result, err = tx.ExecContext(ctx, `
			UPDATE intent_states
			SET updated_ts = ?
			WHERE intent_id = ? AND state = ?
		`, now, req.IntentID, string(rec.State))
	}
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition: update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition: rows affected: %w", err)
	}
	if affected == 0 {
		// Someone else moved the row between our read and the conditional
		// update. Report the fresh state so the caller can re-decide.
		actual, _, rerr := getTx(ctx, tx, req.IntentID)
		if rerr != nil {
			return TransitionResult{}, fmt.Errorf("transition: re-read after conflict: %w", rerr)
		}
		expected := rec.State
		if req.ExpectedFrom != "" {
			expected = req.ExpectedFrom
		}
		return TransitionResult{}, &CASConflictError{
			IntentID: req.IntentID,
			Expected: expected,
			Actual:   actual.State,
		}
	}

	if err := appendJournalTx(ctx, tx, JournalEntry{
		IntentID:  req.IntentID,
		TS:        now,
		FromState: rec.State,
		ToState:   req.To,
		Reason:    req.Reason,
		Meta:      req.Meta,
		Execution: req.Execution,
	}); err != nil {
		return TransitionResult{}, fmt.Errorf("transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TransitionResult{}, fmt.Errorf("transition: commit: %w", err)
	}

	version := rec.Version
	if changed {
		version++
	}
	return TransitionResult{
		Record:  Record{IntentID: req.IntentID, State: req.To, UpdatedTS: now, Version: version},
		Changed: changed,
	}, nil
}

// Get returns the current lifecycle record for id.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	var st string
	err := s.db.QueryRowContext(ctx, `
		SELECT intent_id, state, updated_ts, version
		FROM intent_states WHERE intent_id = ?
	`, id).Scan(&rec.IntentID, &st, &rec.UpdatedTS, &rec.Version)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get intent: %w", err)
	}
	rec.State = types.State(st)
	return rec, true, nil
}

// ListJournal returns journal entries for id oldest-first.
// limit <= 0 returns all entries.
func (s *Store) ListJournal(ctx context.Context, id string, limit int) ([]JournalEntry, error) {
	query := `
		SELECT id, intent_id, ts, from_state, to_state, reason, meta, execution
		FROM intent_journal WHERE intent_id = ? ORDER BY id ASC
	`
	args := []any{id}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var from, to string
		var meta, execution sql.NullString
		if err := rows.Scan(&e.ID, &e.IntentID, &e.TS, &from, &to, &e.Reason, &meta, &execution); err != nil {
			return nil, fmt.Errorf("list journal: scan: %w", err)
		}
		e.FromState = types.State(from)
		e.ToState = types.State(to)
		if e.Meta, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("list journal: meta: %w", err)
		}
		if e.Execution, err = unmarshalMap(execution); err != nil {
			return nil, fmt.Errorf("list journal: execution: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

// getTx loads the lifecycle row within an open transaction.
func getTx(ctx context.Context, tx *sql.Tx, id string) (Record, bool, error) {
	var rec Record
	var st string
	err := tx.QueryRowContext(ctx, `
		SELECT intent_id, state, updated_ts, version
		FROM intent_states WHERE intent_id = ?
	`, id).Scan(&rec.IntentID, &st, &rec.UpdatedTS, &rec.Version)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load row: %w", err)
	}
	rec.State = types.State(st)
	return rec, true, nil
}

// appendJournalTx appends one journal row within an open transaction.
func appendJournalTx(ctx context.Context, tx *sql.Tx, e JournalEntry) error {
	meta, err := marshalMap(e.Meta)
	if err != nil {
		return fmt.Errorf("append journal: marshal meta: %w", err)
	}
	execution, err := marshalMap(e.Execution)
	if err != nil {
		return fmt.Errorf("append journal: marshal execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intent_journal (intent_id, ts, from_state, to_state, reason, meta, execution)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.IntentID, e.TS, string(e.FromState), string(e.ToState), e.Reason, meta, execution); err != nil {
		return fmt.Errorf("append journal: insert: %w", err)
	}
	return nil
}

// marshalMap serializes a meta/execution map to JSON, or NULL when empty.
func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(v sql.NullString) (map[string]any, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
