package strategist

import (
	"context"

	"intent-guard/internal/logger"
	"intent-guard/internal/types"
)

// NoopDecider is a fallback decider used when no external strategist is
// configured. It proposes nothing.
type NoopDecider struct{}

// NewNoopDecider returns a new instance that never proposes trades.
func NewNoopDecider() *NoopDecider {
	return &NoopDecider{}
}

// Propose implements the Decider interface. It always returns an empty batch.
func (d *NoopDecider) Propose(ctx context.Context, rc types.RiskContext) ([]types.RawProposal, error) {
	logger.Debug(ctx, "Noop decider called - no proposals")
	return nil, nil
}
