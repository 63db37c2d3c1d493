package state

import (
	"fmt"

	"intent-guard/internal/types"
)

// transitions is the complete legal edge set of the intent lifecycle.
// Terminal states have no outgoing edges.
var transitions = map[types.State][]types.State{
	types.StatePendingApproval: {types.StateApproved, types.StateRejected},
	types.StateApproved:        {types.StateExecuting},
	types.StateExecuting:       {types.StateExecuted, types.StateFailed},
	types.StateExecuted:        {},
	types.StateFailed:          {},
	types.StateRejected:        {},
}

// CanTransition reports whether from -> to is a legal edge.
// It is a pure lookup; idempotent terminal retries are handled by applyCheck.
func CanTransition(from, to types.State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyCheck validates a requested transition against the lifecycle rules.
//
// Returns changed=false (and no error) for the one allowed no-op: retrying a
// terminal state onto itself. A same-state request on a non-terminal state is
// an error, as is any edge outside the transition table.
func applyCheck(from, to types.State) (changed bool, err error) {
	if !from.Valid() {
		return false, fmt.Errorf("%w: unknown state %q", ErrInvalidState, from)
	}
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown state %q", ErrInvalidState, to)
	}
	if from == to {
		if from.Terminal() {
			return false, nil
		}
		return false, fmt.Errorf("%w: intent already in state %q", ErrNoStateChange, from)
	}
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return true, nil
}
