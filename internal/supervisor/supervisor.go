package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"intent-guard/internal/logger"
	"intent-guard/internal/types"
)

// Normalization reason codes.
const (
	ReasonUnknownAction     = "unknown_action"
	ReasonInvalidLimitOrder = "invalid_limit_order"
)

// Supervisor converts raw proposals into creation decisions: a risk gate in
// front of the intent store. It never executes anything itself.
type Supervisor struct {
	policy Policy
}

func New(policy Policy) *Supervisor {
	return &Supervisor{policy: policy}
}

// CreateIntent normalizes a raw proposal into a canonical Intent, assigns a
// fresh id, and gates it through the risk policy. The caller persists the
// returned intent; the supervisor's output is the decision only.
func (s *Supervisor) CreateIntent(ctx context.Context, raw types.RawProposal, rc types.RiskContext) types.CreateDecision {
	intent, normReason := normalize(raw, rc)

	rejected, reason, details := evaluateRisk(s.policy, intent.Action, rc)
	if rejected {
		logger.Decision(ctx, intent.IntentID, intent.Symbol, intent.Action, types.CreateRejected, reason)
		return types.CreateDecision{
			Status:  types.CreateRejected,
			Reason:  reason,
			Details: details,
			Intent:  intent,
		}
	}

	status := types.CreateNeedsApproval
	if s.policy.AutoApprove {
		status = types.CreateApproved
	}
	logger.Decision(ctx, intent.IntentID, intent.Symbol, intent.Action, status, normReason)
	return types.CreateDecision{
		Status: status,
		Reason: normReason,
		Intent: intent,
	}
}

// normalize maps a raw proposal to the canonical intent shape. Unknown
// actions become NOOP; a limit order missing its symbol, quantity, or price
// becomes NOOP with a reason code rather than an error.
func normalize(raw types.RawProposal, rc types.RiskContext) (types.Intent, string) {
	now := rc.NowEpoch
	if now == 0 {
		now = time.Now().Unix()
	}

	intent := types.Intent{
		IntentID:     uuid.NewString(),
		Symbol:       strings.TrimSpace(raw.Symbol),
		Qty:          raw.Qty,
		Price:        raw.Price,
		OrderType:    strings.ToLower(strings.TrimSpace(raw.OrderType)),
		Rationale:    raw.Rationale,
		CreatedEpoch: now,
		StrategyID:   raw.StrategyID,
		Priority:     raw.Priority,
		Confidence:   raw.Confidence,
	}
	if intent.OrderType == "" {
		intent.OrderType = types.OrderTypeLimit
	}
	if intent.Qty < 0 {
		intent.Qty = 0
	}

	reason := ""
	switch strings.ToUpper(strings.TrimSpace(raw.Action)) {
	case types.ActionBuy:
		intent.Action = types.ActionBuy
	case types.ActionSell:
		intent.Action = types.ActionSell
	case types.ActionNoop, "HOLD":
		intent.Action = types.ActionNoop
	default:
		intent.Action = types.ActionNoop
		reason = ReasonUnknownAction
	}

	if intent.Action != types.ActionNoop && intent.OrderType == types.OrderTypeLimit {
		if intent.Symbol == "" || intent.Qty <= 0 || intent.Price <= 0 {
			intent.Action = types.ActionNoop
			reason = ReasonInvalidLimitOrder
		}
	}
	return intent, reason
}
