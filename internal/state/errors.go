package state

import (
	"errors"
	"fmt"

	"intent-guard/internal/types"
)

// Lifecycle validation errors. Callers match these with errors.Is.
var (
	// ErrInvalidTransition means the requested edge is not in the
	// transition table. This is a caller bug, not a race.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrNoStateChange means a same-state request on a non-terminal state.
	ErrNoStateChange = errors.New("no_state_change")

	// ErrInvalidState means an unknown lifecycle state was supplied.
	ErrInvalidState = errors.New("invalid_state")
)

// CASConflictError means the caller's expected-from state went stale between
// its read and the conditional update: another caller won the transition.
// Always safe to retry by re-reading the record and deciding again.
type CASConflictError struct {
	IntentID string
	Expected types.State
	Actual   types.State
}

func (e *CASConflictError) Error() string {
	return fmt.Sprintf("cas_conflict: intent %s expected state %q but found %q", e.IntentID, e.Expected, e.Actual)
}

// IsCASConflict reports whether err is a stale-expectation failure.
func IsCASConflict(err error) bool {
	var ce *CASConflictError
	return errors.As(err, &ce)
}
