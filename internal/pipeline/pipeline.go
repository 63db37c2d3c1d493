package pipeline

import (
	"context"
	"errors"
	"time"

	"intent-guard/internal/allocator"
	"intent-guard/internal/approval"
	"intent-guard/internal/breaker"
	"intent-guard/internal/guard"
	"intent-guard/internal/intentlog"
	"intent-guard/internal/interfaces"
	"intent-guard/internal/logger"
	"intent-guard/internal/metrics"
	"intent-guard/internal/state"
	"intent-guard/internal/store"
	"intent-guard/internal/supervisor"
	"intent-guard/internal/types"
)

// BreakerScopeDecider is the breaker scope guarding the external decider.
const BreakerScopeDecider = "decider"

// Pipeline runs one proposal cycle end to end: decider proposals in,
// supervised and screened intents out, persisted to the state store and
// journal, optionally auto-approved into execution.
type Pipeline struct {
	cfg       *store.Config
	sup       *supervisor.Supervisor
	decider   interfaces.Decider
	executor  interfaces.Executor
	states    *state.Store
	journal   *intentlog.Log
	approvals *approval.Service
	breakers  *breaker.Registry

	pnl            float64
	openPositions  int
	lastOrderEpoch int64
}

func New(cfg *store.Config, decider interfaces.Decider, executor interfaces.Executor,
	states *state.Store, journal *intentlog.Log, breakers *breaker.Registry) *Pipeline {
	return &Pipeline{
		cfg: cfg,
		sup: supervisor.New(supervisor.Policy{
			DailyLossLimit:    cfg.Risk.DailyLossLimit,
			MaxPositions:      cfg.Risk.MaxPositions,
			PerTradeLossLimit: cfg.Risk.PerTradeLossLimit,
			CooldownSec:       cfg.Risk.CooldownSec,
			AutoApprove:       cfg.Risk.AutoApprove,
		}),
		decider:   decider,
		executor:  executor,
		states:    states,
		journal:   journal,
		approvals: approval.NewService(states, journal),
		breakers:  breakers,
	}
}

// StepResult summarizes one pipeline cycle.
type StepResult struct {
	Proposals int                      `json:"proposals"`
	Rejected  int                      `json:"rejected"`
	Blocked   int                      `json:"blocked"`
	Persisted []string                 `json:"persisted,omitempty"`
	Executed  []approval.ApproveResult `json:"executed,omitempty"`
	Skipped   string                   `json:"skipped,omitempty"`
	Usage     []guard.StrategyUsage    `json:"usage,omitempty"`
}

// Step executes one full cycle. A decider refused by its circuit breaker is
// a clean skip, not an error: the cycle reports why and the loop continues.
func (p *Pipeline) Step(ctx context.Context) (*StepResult, error) {
	op := logger.StartOperation(ctx, "pipeline.step")
	ctx = op.GetContext()
	defer func() { metrics.SetBreakerState(p.breakers.Snapshot()) }()

	rc := p.riskContext()
	proposals, err := p.decider.Propose(ctx, rc)
	if err != nil {
		var openErr *breaker.CircuitOpenError
		if errors.As(err, &openErr) {
			logger.Warn(ctx, "Skipping cycle: decider circuit open",
				"scope", openErr.Scope, "open_until", openErr.OpenUntil)
			op.End("skipped", breaker.ReasonOpen)
			return &StepResult{Skipped: breaker.ReasonOpen}, nil
		}
		logger.ErrorWithErr(ctx, "Decider proposal failed", err)
		op.EndWithError(err)
		return nil, err
	}
	logger.Debug(ctx, "Proposals received", "count", len(proposals))

	result := &StepResult{Proposals: len(proposals)}
	if len(proposals) == 0 {
		op.End("proposals", 0)
		return result, nil
	}

	var candidates []types.Intent
	for _, raw := range proposals {
		decision := p.sup.CreateIntent(ctx, raw, rc)
		metrics.IncIntent(decision.Status)
		if decision.Status == types.CreateRejected {
			result.Rejected++
			_ = p.journal.Append(intentlog.Record{
				IntentID: decision.Intent.IntentID,
				Status:   string(types.StateRejected),
				Reason:   decision.Reason,
				Intent:   &decision.Intent,
			})
			continue
		}
		// NOOP decisions carry no order and never enter screening.
		if decision.Intent.Action == types.ActionNoop {
			continue
		}
		candidates = append(candidates, decision.Intent)
	}

	screened := guard.Screen(guard.Request{
		Intents:          candidates,
		Allocation:       p.allocation(ctx),
		SymbolCaps:       p.cfg.Caps.PerSymbol,
		DefaultSymbolCap: p.cfg.Caps.DefaultSymbolNotional,
	})
	result.Blocked = len(screened.Blocked)
	result.Usage = screened.Usage
	for _, b := range screened.Blocked {
		metrics.IncBlocked(b.Reason)
		logger.Decision(ctx, b.IntentID, b.Symbol, b.Side, "blocked", b.Reason)
		_ = p.journal.Append(intentlog.Record{
			IntentID: b.IntentID,
			Status:   string(types.StateRejected),
			Reason:   b.Reason,
		})
	}

	byID := make(map[string]types.Intent, len(screened.Approved))
	for _, intent := range screened.Approved {
		intent := intent
		byID[intent.IntentID] = intent
		if _, err := p.states.EnsureIntent(ctx, intent.IntentID); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist intent", err, "intent_id", intent.IntentID)
			op.EndWithError(err)
			return nil, err
		}
		metrics.IncTransition(string(types.StatePendingApproval))
		if err := p.journal.Append(intentlog.Record{
			IntentID: intent.IntentID,
			Status:   string(types.StatePendingApproval),
			Intent:   &intent,
		}); err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal intent", err, "intent_id", intent.IntentID)
		}
		result.Persisted = append(result.Persisted, intent.IntentID)
	}

	if p.cfg.Risk.AutoApprove {
		for _, id := range result.Persisted {
			res, err := p.approvals.Approve(ctx, approval.ApproveRequest{
				IntentID:         id,
				ExecutionEnabled: p.executionEnabled(),
				Executor:         p.executor,
			})
			if err != nil {
				metrics.IncExecution(false)
				logger.ErrorWithErr(ctx, "Auto-approval failed", err, "intent_id", id)
				continue
			}
			if res.Blocked {
				if res.Conflict {
					metrics.IncCASConflict()
				}
				continue
			}
			if res.Status == types.StateExecuted && res.Execution != nil {
				metrics.IncExecution(res.Execution.OK)
				p.recordFill(byID[id], *res.Execution)
			}
			result.Executed = append(result.Executed, res)
		}
	}

	op.End("proposals", result.Proposals, "rejected", result.Rejected,
		"blocked", result.Blocked, "persisted", len(result.Persisted))
	return result, nil
}

// allocation computes per-strategy budgets from config. No configured
// strategies means the budget stage stays disabled.
func (p *Pipeline) allocation(ctx context.Context) *allocator.Result {
	if len(p.cfg.Budget.Strategies) == 0 || p.cfg.Budget.TotalNotional <= 0 {
		return nil
	}
	profiles := make([]allocator.StrategyProfile, 0, len(p.cfg.Budget.Strategies))
	for _, s := range p.cfg.Budget.Strategies {
		profiles = append(profiles, allocator.StrategyProfile{
			StrategyID:       s.StrategyID,
			Enabled:          s.Enabled,
			Weight:           s.Weight,
			MaxNotionalRatio: s.MaxNotionalRatio,
		})
	}
	res, err := allocator.Allocate(allocator.Request{
		Profiles:      profiles,
		TotalNotional: p.cfg.Budget.TotalNotional,
		ReserveRatio:  p.cfg.Budget.ReserveRatio,
	})
	if err != nil {
		logger.Warn(ctx, "Budget allocation unavailable, screening without budgets", "error", err.Error())
		return nil
	}
	return &res
}

func (p *Pipeline) executionEnabled() bool {
	return p.cfg.Execution.Enabled && p.cfg.Mode == "LIVE"
}

func (p *Pipeline) riskContext() types.RiskContext {
	return types.RiskContext{
		DailyPnLRatio:  p.pnl,
		OpenPositions:  p.openPositions,
		LastOrderEpoch: p.lastOrderEpoch,
		NowEpoch:       time.Now().Unix(),
	}
}

// recordFill keeps the in-process position and cooldown view current after
// a successful execution.
func (p *Pipeline) recordFill(intent types.Intent, res types.ExecutionResult) {
	if !res.OK {
		return
	}
	p.lastOrderEpoch = time.Now().Unix()
	switch intent.Action {
	case types.ActionBuy:
		p.openPositions++
	case types.ActionSell:
		if p.openPositions > 0 {
			p.openPositions--
		}
	}
}

// Approvals exposes the pipeline's approval service for CLI wiring.
func (p *Pipeline) Approvals() *approval.Service {
	return p.approvals
}
