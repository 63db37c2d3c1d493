package strategist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-guard/internal/breaker"
	"intent-guard/internal/types"
)

type stubDecider struct {
	calls     int
	proposals []types.RawProposal
	err       error
}

func (d *stubDecider) Propose(_ context.Context, _ types.RiskContext) ([]types.RawProposal, error) {
	d.calls++
	return d.proposals, d.err
}

func TestGatedDeciderPassthrough(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Policy{FailThreshold: 2, CooldownSec: 60})
	inner := &stubDecider{proposals: []types.RawProposal{{Action: "BUY", Symbol: "INFY"}}}
	d := NewGatedDecider(inner, reg, "strategist")
	d.now = func() int64 { return 1000 }

	props, err := d.Propose(context.Background(), types.RiskContext{})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "INFY", props[0].Symbol)
	assert.Equal(t, breaker.StateClosed, reg.Snapshot()["strategist"].State)
}

func TestGatedDeciderTripsAndRefuses(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Policy{FailThreshold: 2, CooldownSec: 60})
	inner := &stubDecider{err: errors.New("upstream down")}
	d := NewGatedDecider(inner, reg, "strategist")
	clock := int64(1000)
	d.now = func() int64 { return clock }

	for i := 0; i < 2; i++ {
		_, err := d.Propose(context.Background(), types.RiskContext{})
		require.Error(t, err)
	}
	assert.Equal(t, breaker.StateOpen, reg.Snapshot()["strategist"].State)

	// Inside the cooldown the inner decider is never reached.
	clock = 1030
	_, err := d.Propose(context.Background(), types.RiskContext{})
	var openErr *breaker.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "strategist", openErr.Scope)
	assert.Equal(t, int64(1060), openErr.OpenUntil)
	assert.Equal(t, 2, inner.calls)
}

func TestGatedDeciderRecoversAfterCooldown(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Policy{FailThreshold: 1, CooldownSec: 10})
	inner := &stubDecider{err: errors.New("boom")}
	d := NewGatedDecider(inner, reg, "strategist")
	clock := int64(1000)
	d.now = func() int64 { return clock }

	_, err := d.Propose(context.Background(), types.RiskContext{})
	require.Error(t, err)
	assert.Equal(t, breaker.StateOpen, reg.Snapshot()["strategist"].State)

	// Past the window the probe goes through and a success closes the circuit.
	clock = 1011
	inner.err = nil
	_, err = d.Propose(context.Background(), types.RiskContext{})
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, reg.Snapshot()["strategist"].State)
	assert.Equal(t, 0, reg.Snapshot()["strategist"].FailCount)
}

func TestNoopDeciderProposesNothing(t *testing.T) {
	props, err := NewNoopDecider().Propose(context.Background(), types.RiskContext{})
	require.NoError(t, err)
	assert.Empty(t, props)
}
