package strategist

import (
	"context"
	"time"

	"intent-guard/internal/breaker"
	"intent-guard/internal/interfaces"
	"intent-guard/internal/logger"
	"intent-guard/internal/types"
)

// GatedDecider wraps a decider with a circuit breaker scope. Calls are
// refused while the scope's circuit is open; failures and successes are
// reported back so the breaker can trip and recover.
type GatedDecider struct {
	inner    interfaces.Decider
	registry *breaker.Registry
	scope    string
	now      func() int64
}

func NewGatedDecider(inner interfaces.Decider, registry *breaker.Registry, scope string) *GatedDecider {
	return &GatedDecider{
		inner:    inner,
		registry: registry,
		scope:    scope,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Propose gates the inner decider behind the breaker. A refused call returns
// *breaker.CircuitOpenError so callers can distinguish breaker rejection
// from a decider failure.
func (d *GatedDecider) Propose(ctx context.Context, rc types.RiskContext) ([]types.RawProposal, error) {
	now := d.now()
	gate := d.registry.Gate(d.scope, now)
	if !gate.Allowed {
		slot := d.registry.Snapshot()[d.scope]
		logger.Warn(ctx, "Decider call refused by circuit breaker",
			"scope", d.scope, "reason", gate.Reason, "open_until", slot.OpenUntilEpoch)
		return nil, &breaker.CircuitOpenError{Scope: d.scope, OpenUntil: slot.OpenUntilEpoch}
	}

	proposals, err := d.inner.Propose(ctx, rc)
	if err != nil {
		d.registry.MarkFailure(d.scope, "decider_error", d.now())
		return nil, err
	}
	d.registry.MarkSuccess(d.scope)
	return proposals, nil
}
