package supervisor

import (
	"intent-guard/internal/types"
)

// Policy holds the guardrail limits the supervisor enforces at intent
// creation. Zero values disable the corresponding check.
type Policy struct {
	DailyLossLimit    float64
	MaxPositions      int
	PerTradeLossLimit float64
	CooldownSec       int64
	AutoApprove       bool
}

// Rejection reason codes.
const (
	ReasonDailyLossLimit = "daily_loss_limit"
	ReasonMaxPositions   = "max_positions"
	ReasonPerTradeRisk   = "per_trade_loss_limit"
	ReasonCooldown       = "cooldown_active"
)

// evaluateRisk runs the guardrails against a context snapshot. It is pure:
// same inputs, same verdict. Returns rejected=false with empty reason when
// every configured check passes.
func evaluateRisk(p Policy, action string, rc types.RiskContext) (rejected bool, reason string, details map[string]any) {
	if p.DailyLossLimit > 0 && rc.DailyPnLRatio <= -p.DailyLossLimit {
		return true, ReasonDailyLossLimit, map[string]any{
			"daily_pnl_ratio":  rc.DailyPnLRatio,
			"daily_loss_limit": p.DailyLossLimit,
		}
	}
	if p.MaxPositions > 0 && rc.OpenPositions >= p.MaxPositions && isOpeningAction(action) {
		return true, ReasonMaxPositions, map[string]any{
			"open_positions": rc.OpenPositions,
			"max_positions":  p.MaxPositions,
		}
	}
	if p.PerTradeLossLimit > 0 && rc.PerTradeRiskRatio > p.PerTradeLossLimit {
		return true, ReasonPerTradeRisk, map[string]any{
			"per_trade_risk_ratio": rc.PerTradeRiskRatio,
			"per_trade_loss_limit": p.PerTradeLossLimit,
		}
	}
	if p.CooldownSec > 0 && rc.LastOrderEpoch > 0 && rc.NowEpoch-rc.LastOrderEpoch < p.CooldownSec {
		return true, ReasonCooldown, map[string]any{
			"last_order_epoch": rc.LastOrderEpoch,
			"cooldown_sec":     p.CooldownSec,
		}
	}
	return false, "", nil
}

// isOpeningAction reports whether the action adds exposure. Position caps
// only apply to these.
func isOpeningAction(action string) bool {
	switch action {
	case types.ActionBuy, "OPEN", "ENTER":
		return true
	}
	return false
}
