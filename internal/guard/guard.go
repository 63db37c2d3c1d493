package guard

import (
	"sort"

	"intent-guard/internal/allocator"
	"intent-guard/internal/conflict"
	"intent-guard/internal/types"
)

// StrategyUsage is the per-strategy budget bookkeeping for one screening run.
type StrategyUsage struct {
	StrategyID        string  `json:"strategy_id"`
	BudgetNotional    float64 `json:"budget_notional"`
	UsedNotional      float64 `json:"used_notional"`
	RemainingNotional float64 `json:"remaining_notional"`
}

// Request is one budget-guard screening batch. Budgets come from the
// allocator result unless BudgetOverride is non-empty; when both produce an
// empty map the budget stage is disabled and intents flow straight to
// conflict resolution.
type Request struct {
	Intents          []types.Intent     `json:"intents"`
	Allocation       *allocator.Result  `json:"allocation,omitempty"`
	BudgetOverride   map[string]float64 `json:"budget_override,omitempty"`
	SymbolCaps       map[string]float64 `json:"symbol_caps,omitempty"`
	DefaultSymbolCap float64            `json:"default_symbol_cap,omitempty"`
}

// Result merges the budget stage's and the conflict stage's outcomes.
// Approved preserves the original batch order.
type Result struct {
	Approved            []types.Intent     `json:"approved"`
	Blocked             []conflict.Blocked `json:"blocked"`
	BlockedReasonCounts map[string]int     `json:"blocked_reason_counts"`
	Usage               []StrategyUsage    `json:"usage,omitempty"`
	BudgetDisabled      bool               `json:"budget_disabled,omitempty"`
}

// Screen runs the full guard: malformed screening, per-strategy budget
// admission, then per-symbol conflict resolution on the survivors.
func Screen(req Request) Result {
	res := Result{BlockedReasonCounts: map[string]int{}}

	budgets := budgetMap(req)
	res.BudgetDisabled = len(budgets) == 0

	// Malformed rows never reach either stage.
	var wellFormed []conflict.Candidate
	for i, in := range req.Intents {
		c := conflict.FromIntent(i, in)
		if c.Symbol == "" {
			res.block(conflict.Blocked{Candidate: c, Reason: conflict.ReasonMissingSymbol})
			continue
		}
		if c.Side != types.ActionBuy && c.Side != types.ActionSell {
			res.block(conflict.Blocked{Candidate: c, Reason: conflict.ReasonInvalidSide})
			continue
		}
		wellFormed = append(wellFormed, c)
	}

	survivors := wellFormed
	if !res.BudgetDisabled {
		survivors = res.screenBudgets(wellFormed, budgets)
	}

	conflictRes := conflict.Resolve(conflict.Request{
		Candidates: survivors,
		SymbolCaps: req.SymbolCaps,
		DefaultCap: req.DefaultSymbolCap,
	})
	for _, b := range conflictRes.Blocked {
		res.block(b)
	}

	for _, c := range conflictRes.Approved {
		res.Approved = append(res.Approved, req.Intents[c.Index])
	}
	sort.Slice(res.Blocked, func(i, j int) bool {
		return res.Blocked[i].Index < res.Blocked[j].Index
	})
	return res
}

func (r *Result) block(b conflict.Blocked) {
	r.Blocked = append(r.Blocked, b)
	r.BlockedReasonCounts[b.Reason]++
}

// budgetMap builds strategy_id -> budget notional from the override or the
// allocator rows.
func budgetMap(req Request) map[string]float64 {
	if len(req.BudgetOverride) > 0 {
		return req.BudgetOverride
	}
	if req.Allocation == nil {
		return nil
	}
	m := make(map[string]float64, len(req.Allocation.Rows))
	for _, row := range req.Allocation.Rows {
		m[row.StrategyID] = row.AllocatedNotional
	}
	return m
}

// screenBudgets admits candidates per strategy in (score desc, index asc)
// order while cumulative notional stays within the strategy's budget.
// Candidates without a strategy, or with a strategy that has no budget row,
// are blocked outright.
func (r *Result) screenBudgets(candidates []conflict.Candidate, budgets map[string]float64) []conflict.Candidate {
	byStrategy := map[string][]conflict.Candidate{}
	for _, c := range candidates {
		if c.StrategyID == "" {
			r.block(conflict.Blocked{Candidate: c, Reason: conflict.ReasonMissingStrategyID})
			continue
		}
		if _, ok := budgets[c.StrategyID]; !ok {
			r.block(conflict.Blocked{Candidate: c, Reason: conflict.ReasonMissingBudget})
			continue
		}
		byStrategy[c.StrategyID] = append(byStrategy[c.StrategyID], c)
	}

	ids := make([]string, 0, len(byStrategy))
	for id := range byStrategy {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var survivors []conflict.Candidate
	for _, id := range ids {
		group := byStrategy[id]
		sort.Slice(group, func(i, j int) bool {
			if group[i].PriorityScore != group[j].PriorityScore {
				return group[i].PriorityScore > group[j].PriorityScore
			}
			return group[i].Index < group[j].Index
		})

		budget := budgets[id]
		used := 0.0
		for _, c := range group {
			if used+c.RequestedNotional <= budget {
				survivors = append(survivors, c)
				used += c.RequestedNotional
				continue
			}
			r.block(conflict.Blocked{
				Candidate: c,
				Reason:    conflict.ReasonStrategyBudgetLimit,
				Details: map[string]any{
					"budget_notional":    budget,
					"used_notional":      used,
					"requested_notional": c.RequestedNotional,
				},
			})
		}
		r.Usage = append(r.Usage, StrategyUsage{
			StrategyID:        id,
			BudgetNotional:    budget,
			UsedNotional:      used,
			RemainingNotional: budget - used,
		})
	}
	return survivors
}
