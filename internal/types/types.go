package types

// Action values for an intent.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionNoop = "NOOP"
)

// Order types.
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// State is the lifecycle state of an intent.
type State string

const (
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateExecuting       State = "executing"
	StateExecuted        State = "executed"
	StateFailed          State = "failed"
	StateRejected        State = "rejected"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateFailed || s == StateRejected
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePendingApproval, StateApproved, StateExecuting, StateExecuted, StateFailed, StateRejected:
		return true
	}
	return false
}

// Intent is a proposed order. Created once by the supervisor and immutable
// thereafter; everything downstream references it by IntentID.
type Intent struct {
	IntentID     string  `json:"intent_id"`
	Action       string  `json:"action"`
	Symbol       string  `json:"symbol"`
	Qty          int     `json:"qty"`
	Price        float64 `json:"price,omitempty"`
	OrderType    string  `json:"order_type"`
	Rationale    string  `json:"rationale"`
	CreatedEpoch int64   `json:"created_epoch"`
	StrategyID   string  `json:"strategy_id,omitempty"`
	Priority     float64 `json:"priority,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Notional returns price × quantity for the intent.
func (in Intent) Notional() float64 {
	return in.Price * float64(in.Qty)
}

// RawProposal is what a decision provider emits before normalization.
type RawProposal struct {
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Qty        int     `json:"qty"`
	Price      float64 `json:"price,omitempty"`
	OrderType  string  `json:"order_type,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	StrategyID string  `json:"strategy_id,omitempty"`
	Priority   float64 `json:"priority,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Creation decision statuses emitted by the supervisor.
const (
	CreateRejected      = "rejected"
	CreateNeedsApproval = "needs_approval"
	CreateApproved      = "approved"
)

// CreateDecision is the supervisor's verdict on a raw proposal.
type CreateDecision struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Intent  Intent         `json:"intent"`
}

// RiskContext is the account snapshot the risk policy evaluates against.
// Zero values are safe defaults for every field.
type RiskContext struct {
	DailyPnLRatio     float64 `json:"daily_pnl_ratio"`
	PerTradeRiskRatio float64 `json:"per_trade_risk_ratio"`
	OpenPositions     int     `json:"open_positions"`
	LastOrderEpoch    int64   `json:"last_order_epoch"`
	NowEpoch          int64   `json:"now_epoch"`
}

// ExecutionResult is what the execution collaborator returns for a claimed
// intent. Detail carries broker-specific fields verbatim.
type ExecutionResult struct {
	OK      bool           `json:"ok"`
	OrderID string         `json:"order_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}
