package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-guard/internal/allocator"
	"intent-guard/internal/conflict"
	"intent-guard/internal/types"
)

func intent(id, strategy, symbol, action string, qty int, price, priority float64) types.Intent {
	return types.Intent{
		IntentID:   id,
		StrategyID: strategy,
		Symbol:     symbol,
		Action:     action,
		Qty:        qty,
		Price:      price,
		Priority:   priority,
		Confidence: 0.5,
	}
}

func TestEmptyBudgetMapDisablesBudgetStage(t *testing.T) {
	res := Screen(Request{
		Intents: []types.Intent{
			intent("a", "", "X", "BUY", 1, 10, 1),
			intent("b", "momentum", "Y", "SELL", 2, 5, 1),
		},
	})

	assert.True(t, res.BudgetDisabled)
	assert.Len(t, res.Approved, 2, "no budgets means no strategy blocking")
	assert.Empty(t, res.Usage)
}

func TestBudgetAdmissionAndOverflow(t *testing.T) {
	res := Screen(Request{
		Intents: []types.Intent{
			intent("hi", "momentum", "A", "BUY", 10, 10, 9),  // 100, high priority
			intent("lo", "momentum", "B", "BUY", 10, 10, 1),  // 100, low priority
			intent("mid", "momentum", "C", "BUY", 5, 10, 5),  // 50
		},
		BudgetOverride: map[string]float64{"momentum": 160},
	})

	require.Len(t, res.Approved, 2)
	assert.Equal(t, "hi", res.Approved[0].IntentID)
	assert.Equal(t, "mid", res.Approved[1].IntentID)

	require.Len(t, res.Blocked, 1)
	assert.Equal(t, "lo", res.Blocked[0].IntentID)
	assert.Equal(t, conflict.ReasonStrategyBudgetLimit, res.Blocked[0].Reason)
	assert.Equal(t, 160.0, res.Blocked[0].Details["budget_notional"])
	assert.Equal(t, 150.0, res.Blocked[0].Details["used_notional"])

	require.Len(t, res.Usage, 1)
	assert.Equal(t, "momentum", res.Usage[0].StrategyID)
	assert.Equal(t, 150.0, res.Usage[0].UsedNotional)
	assert.Equal(t, 10.0, res.Usage[0].RemainingNotional)
}

func TestMissingStrategyBlocking(t *testing.T) {
	res := Screen(Request{
		Intents: []types.Intent{
			intent("no-id", "", "A", "BUY", 1, 10, 1),
			intent("no-budget", "unknown", "B", "BUY", 1, 10, 1),
			intent("ok", "momentum", "C", "BUY", 1, 10, 1),
		},
		BudgetOverride: map[string]float64{"momentum": 100},
	})

	require.Len(t, res.Approved, 1)
	assert.Equal(t, "ok", res.Approved[0].IntentID)
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonMissingStrategyID])
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonMissingBudget])
}

func TestBudgetsFromAllocatorRows(t *testing.T) {
	alloc, err := allocator.Allocate(allocator.Request{
		Profiles: []allocator.StrategyProfile{
			{StrategyID: "momentum", Enabled: true, Weight: 1},
			{StrategyID: "meanrev", Enabled: true, Weight: 1},
		},
		TotalNotional: 200,
	})
	require.NoError(t, err)

	res := Screen(Request{
		Intents: []types.Intent{
			intent("m1", "momentum", "A", "BUY", 10, 10, 5), // 100 == momentum budget
			intent("m2", "momentum", "B", "BUY", 1, 10, 1),  // overflow
			intent("r1", "meanrev", "C", "SELL", 5, 10, 5),  // 50 of 100
		},
		Allocation: &alloc,
	})

	require.Len(t, res.Approved, 2)
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonStrategyBudgetLimit])

	byID := map[string]StrategyUsage{}
	for _, u := range res.Usage {
		byID[u.StrategyID] = u
	}
	assert.Equal(t, 100.0, byID["momentum"].UsedNotional)
	assert.Equal(t, 50.0, byID["meanrev"].UsedNotional)
}

func TestBudgetSurvivorsStillHitConflictStage(t *testing.T) {
	res := Screen(Request{
		Intents: []types.Intent{
			intent("buy", "momentum", "X", "BUY", 1, 10, 9),
			intent("sell", "momentum", "X", "SELL", 1, 10, 1),
		},
		BudgetOverride: map[string]float64{"momentum": 1000},
	})

	require.Len(t, res.Approved, 1)
	assert.Equal(t, "buy", res.Approved[0].IntentID)
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonOppositeSide])
}

func TestMergedCountsAcrossStages(t *testing.T) {
	res := Screen(Request{
		Intents: []types.Intent{
			{IntentID: "malformed", StrategyID: "momentum", Action: "BUY"},             // no symbol
			intent("no-budget", "other", "A", "BUY", 1, 10, 1),                         // budget stage
			intent("capped-1", "momentum", "B", "BUY", 10, 10, 9),                      // survives
			intent("capped-2", "momentum", "B", "BUY", 10, 10, 1),                      // symbol cap
		},
		BudgetOverride: map[string]float64{"momentum": 1000},
		SymbolCaps:     map[string]float64{"B": 100},
	})

	require.Len(t, res.Approved, 1)
	assert.Equal(t, "capped-1", res.Approved[0].IntentID)
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonMissingSymbol])
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonMissingBudget])
	assert.Equal(t, 1, res.BlockedReasonCounts[conflict.ReasonSymbolCapExceeded])
	assert.Len(t, res.Blocked, 3)
}
