package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-guard/internal/types"
)

func validProposal() types.RawProposal {
	return types.RawProposal{
		Action: "BUY",
		Symbol: "RELIANCE",
		Qty:    5,
		Price:  120.5,
	}
}

func TestCreateIntentNeedsApproval(t *testing.T) {
	s := New(Policy{})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{})

	assert.Equal(t, types.CreateNeedsApproval, d.Status)
	assert.Equal(t, types.ActionBuy, d.Intent.Action)
	assert.Equal(t, types.OrderTypeLimit, d.Intent.OrderType)
	assert.NotEmpty(t, d.Intent.IntentID)
	assert.NotZero(t, d.Intent.CreatedEpoch)
}

func TestAutoApprove(t *testing.T) {
	s := New(Policy{AutoApprove: true})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{})
	assert.Equal(t, types.CreateApproved, d.Status)
}

func TestNormalizeUnknownAction(t *testing.T) {
	s := New(Policy{})
	d := s.CreateIntent(context.Background(), types.RawProposal{Action: "SHORT_SQUEEZE", Symbol: "X", Qty: 1, Price: 1}, types.RiskContext{})

	assert.Equal(t, types.ActionNoop, d.Intent.Action)
	assert.Equal(t, ReasonUnknownAction, d.Reason)
	assert.Equal(t, types.CreateNeedsApproval, d.Status)
}

func TestNormalizeInvalidLimitOrder(t *testing.T) {
	cases := []types.RawProposal{
		{Action: "BUY", Qty: 1, Price: 10},            // no symbol
		{Action: "BUY", Symbol: "X", Price: 10},       // no qty
		{Action: "SELL", Symbol: "X", Qty: 1},         // no price
		{Action: "BUY", Symbol: "X", Qty: -3, Price: 10}, // negative qty clamps then fails
	}
	s := New(Policy{})
	for i, raw := range cases {
		d := s.CreateIntent(context.Background(), raw, types.RiskContext{})
		assert.Equal(t, types.ActionNoop, d.Intent.Action, "case %d", i)
		assert.Equal(t, ReasonInvalidLimitOrder, d.Reason, "case %d", i)
	}
}

func TestMarketOrderWithoutPriceIsValid(t *testing.T) {
	s := New(Policy{})
	d := s.CreateIntent(context.Background(), types.RawProposal{
		Action: "SELL", Symbol: "X", Qty: 2, OrderType: "market",
	}, types.RiskContext{})
	assert.Equal(t, types.ActionSell, d.Intent.Action)
	assert.Empty(t, d.Reason)
}

func TestRiskDailyLossLimit(t *testing.T) {
	s := New(Policy{DailyLossLimit: 0.03})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{DailyPnLRatio: -0.03})
	require.Equal(t, types.CreateRejected, d.Status)
	assert.Equal(t, ReasonDailyLossLimit, d.Reason)

	// A zero limit disables the check even at zero pnl.
	s = New(Policy{})
	d = s.CreateIntent(context.Background(), validProposal(), types.RiskContext{DailyPnLRatio: 0})
	assert.NotEqual(t, types.CreateRejected, d.Status)
}

func TestRiskMaxPositionsOnlyBlocksOpening(t *testing.T) {
	s := New(Policy{MaxPositions: 3})
	rc := types.RiskContext{OpenPositions: 3}

	d := s.CreateIntent(context.Background(), validProposal(), rc)
	require.Equal(t, types.CreateRejected, d.Status)
	assert.Equal(t, ReasonMaxPositions, d.Reason)

	sell := validProposal()
	sell.Action = "SELL"
	d = s.CreateIntent(context.Background(), sell, rc)
	assert.Equal(t, types.CreateNeedsApproval, d.Status, "closing actions ignore the position cap")
}

func TestRiskPerTradeLimit(t *testing.T) {
	s := New(Policy{PerTradeLossLimit: 0.01})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{PerTradeRiskRatio: 0.02})
	require.Equal(t, types.CreateRejected, d.Status)
	assert.Equal(t, ReasonPerTradeRisk, d.Reason)
}

func TestRiskCooldown(t *testing.T) {
	s := New(Policy{CooldownSec: 60})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{
		LastOrderEpoch: 1000,
		NowEpoch:       1030,
	})
	require.Equal(t, types.CreateRejected, d.Status)
	assert.Equal(t, ReasonCooldown, d.Reason)

	// Elapsed cooldown passes.
	d = s.CreateIntent(context.Background(), validProposal(), types.RiskContext{
		LastOrderEpoch: 1000,
		NowEpoch:       1061,
	})
	assert.Equal(t, types.CreateNeedsApproval, d.Status)

	// No prior order means no cooldown.
	d = s.CreateIntent(context.Background(), validProposal(), types.RiskContext{NowEpoch: 1030})
	assert.Equal(t, types.CreateNeedsApproval, d.Status)
}

func TestCreatedEpochFromContext(t *testing.T) {
	s := New(Policy{})
	d := s.CreateIntent(context.Background(), validProposal(), types.RiskContext{NowEpoch: 424242})
	assert.Equal(t, int64(424242), d.Intent.CreatedEpoch)
}
