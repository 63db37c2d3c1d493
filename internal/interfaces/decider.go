package interfaces

import (
	"context"

	"intent-guard/internal/types"
)

// Decider is the external decision provider: given a risk snapshot it
// proposes a batch of raw trade intents. Implementations may be unreliable;
// callers gate them behind a circuit breaker.
type Decider interface {
	Propose(ctx context.Context, rc types.RiskContext) ([]types.RawProposal, error)
}
