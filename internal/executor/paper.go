package executor

import (
	"context"
	"fmt"
	"time"

	"intent-guard/internal/logger"
	"intent-guard/internal/types"
)

// Paper is a simulated executor. Every intent fills immediately with a
// synthetic order id, so the full approval and claim flow can be exercised
// without a live broker.
type Paper struct{}

func NewPaper() *Paper {
	return &Paper{}
}

func (p *Paper) Execute(ctx context.Context, intent types.Intent) (types.ExecutionResult, error) {
	res := types.ExecutionResult{
		OK:      true,
		OrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()),
		Detail: map[string]any{
			"status":   "SIMULATED",
			"symbol":   intent.Symbol,
			"qty":      intent.Qty,
			"notional": intent.Notional(),
		},
	}
	logger.Info(ctx, "Simulated order placed",
		"intent_id", intent.IntentID, "symbol", intent.Symbol, "side", intent.Action,
		"qty", intent.Qty, "order_id", res.OrderID)
	return res, nil
}
