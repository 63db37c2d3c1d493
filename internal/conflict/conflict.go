package conflict

import (
	"math"
	"sort"

	"intent-guard/internal/types"
)

// Blocking reason codes.
const (
	ReasonMissingSymbol       = "missing_symbol"
	ReasonInvalidSide         = "invalid_side"
	ReasonSideConflictTie     = "side_conflict_tie"
	ReasonOppositeSide        = "opposite_side_conflict"
	ReasonSymbolCapExceeded   = "symbol_notional_cap_exceeded"
	ReasonMissingStrategyID   = "missing_strategy_id"
	ReasonMissingBudget       = "missing_strategy_budget"
	ReasonStrategyBudgetLimit = "strategy_budget_exceeded"
)

// scoreTolerance is the floating tolerance for priority-score ties.
const scoreTolerance = 1e-9

// PriorityScore ranks an intent for admission ordering. Priority dominates,
// confidence breaks priority ties, notional is a stable final nudge.
func PriorityScore(priority, confidence, requestedNotional float64) float64 {
	return priority*1000 + confidence*100 + requestedNotional*1e-6
}

// Candidate is one working row in a screening batch. Index is the original
// batch position and doubles as the deterministic tie-break.
type Candidate struct {
	Index             int     `json:"index"`
	IntentID          string  `json:"intent_id,omitempty"`
	StrategyID        string  `json:"strategy_id,omitempty"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	RequestedNotional float64 `json:"requested_notional"`
	PriorityScore     float64 `json:"priority_score"`
}

// FromIntent builds a candidate row from an intent at batch position index.
func FromIntent(index int, in types.Intent) Candidate {
	notional := in.Notional()
	return Candidate{
		Index:             index,
		IntentID:          in.IntentID,
		StrategyID:        in.StrategyID,
		Symbol:            in.Symbol,
		Side:              in.Action,
		RequestedNotional: notional,
		PriorityScore:     PriorityScore(in.Priority, in.Confidence, notional),
	}
}

// Blocked is a candidate refused with a reason code. Details carries
// reason-specific diagnostics such as the cap and the notional already used.
type Blocked struct {
	Candidate
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// Request is one conflict-resolution batch. A symbol missing from SymbolCaps
// falls back to DefaultCap; a cap of 0 means unlimited.
type Request struct {
	Candidates []Candidate        `json:"candidates"`
	SymbolCaps map[string]float64 `json:"symbol_caps,omitempty"`
	DefaultCap float64            `json:"default_cap,omitempty"`
}

// Result is the screened batch. Approved preserves the original batch order.
type Result struct {
	Approved            []Candidate    `json:"approved"`
	Blocked             []Blocked      `json:"blocked"`
	BlockedReasonCounts map[string]int `json:"blocked_reason_counts"`
}

// Resolve screens a batch of candidates for same-symbol side conflicts and
// per-symbol notional-cap overflow. Symbols are processed in sorted order and
// ties break on original index, so the outcome is deterministic for any
// input permutation of equal rows.
func Resolve(req Request) Result {
	res := Result{BlockedReasonCounts: map[string]int{}}

	bySymbol := map[string][]Candidate{}
	for _, c := range req.Candidates {
		if c.Symbol == "" {
			res.block(Blocked{Candidate: c, Reason: ReasonMissingSymbol})
			continue
		}
		if c.Side != types.ActionBuy && c.Side != types.ActionSell {
			res.block(Blocked{Candidate: c, Reason: ReasonInvalidSide})
			continue
		}
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		group := bySymbol[sym]
		survivors := res.resolveSides(group)

		cap := req.DefaultCap
		if v, ok := req.SymbolCaps[sym]; ok {
			cap = v
		}
		res.admitWithinCap(survivors, cap)
	}

	sort.Slice(res.Approved, func(i, j int) bool {
		return res.Approved[i].Index < res.Approved[j].Index
	})
	sort.Slice(res.Blocked, func(i, j int) bool {
		return res.Blocked[i].Index < res.Blocked[j].Index
	})
	return res
}

func (r *Result) block(b Blocked) {
	r.Blocked = append(r.Blocked, b)
	r.BlockedReasonCounts[b.Reason]++
}

// resolveSides enforces side exclusivity for one symbol's candidates.
// When both sides are present the side with the higher best score wins; an
// exact tie blocks the whole symbol.
func (r *Result) resolveSides(group []Candidate) []Candidate {
	bestBuy, bestSell := math.Inf(-1), math.Inf(-1)
	hasBuy, hasSell := false, false
	for _, c := range group {
		if c.Side == types.ActionBuy {
			hasBuy = true
			bestBuy = math.Max(bestBuy, c.PriorityScore)
		} else {
			hasSell = true
			bestSell = math.Max(bestSell, c.PriorityScore)
		}
	}
	if !hasBuy || !hasSell {
		return group
	}

	if math.Abs(bestBuy-bestSell) <= scoreTolerance {
		for _, c := range group {
			r.block(Blocked{Candidate: c, Reason: ReasonSideConflictTie})
		}
		return nil
	}

	winner := types.ActionBuy
	if bestSell > bestBuy {
		winner = types.ActionSell
	}

	var survivors []Candidate
	for _, c := range group {
		if c.Side == winner {
			survivors = append(survivors, c)
		} else {
			r.block(Blocked{Candidate: c, Reason: ReasonOppositeSide})
		}
	}
	return survivors
}

// admitWithinCap greedily admits one symbol's surviving candidates in
// (score desc, index asc) order while cumulative notional stays within cap.
// cap <= 0 means unlimited.
func (r *Result) admitWithinCap(survivors []Candidate, cap float64) {
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].PriorityScore != survivors[j].PriorityScore {
			return survivors[i].PriorityScore > survivors[j].PriorityScore
		}
		return survivors[i].Index < survivors[j].Index
	})

	used := 0.0
	for _, c := range survivors {
		if cap <= 0 || used+c.RequestedNotional <= cap+scoreTolerance {
			r.Approved = append(r.Approved, c)
			used += c.RequestedNotional
			continue
		}
		r.block(Blocked{
			Candidate: c,
			Reason:    ReasonSymbolCapExceeded,
			Details: map[string]any{
				"symbol_cap":         cap,
				"used_notional":      used,
				"requested_notional": c.RequestedNotional,
			},
		})
	}
}
