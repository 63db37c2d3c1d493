package interfaces

import (
	"context"

	"intent-guard/internal/types"
)

// Executor is the execution collaborator invoked after an intent is claimed
// for execution. Any returned error is treated as an execution failure and
// recorded terminally before it propagates.
type Executor interface {
	Execute(ctx context.Context, intent types.Intent) (types.ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, intent types.Intent) (types.ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, intent types.Intent) (types.ExecutionResult, error) {
	return f(ctx, intent)
}
