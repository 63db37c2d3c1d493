package allocator

import (
	"errors"
	"math"
)

// Named allocation failures.
var (
	ErrNoActiveStrategies     = errors.New("no_active_strategies")
	ErrNonPositiveTotalWeight = errors.New("non_positive_total_weight")
)

// epsilon bounds the leftover redistribution loop.
const epsilon = 1e-6

// StrategyProfile is one allocator input row.
type StrategyProfile struct {
	StrategyID       string  `json:"strategy_id"`
	Enabled          bool    `json:"enabled"`
	Weight           float64 `json:"weight"`
	MaxNotionalRatio float64 `json:"max_notional_ratio,omitempty"` // 0..1 fraction of allocatable, 0 = uncapped
}

// Row is one allocator output row. MaxNotional is the absolute cap derived
// from MaxNotionalRatio, 0 when uncapped.
type Row struct {
	StrategyID        string  `json:"strategy_id"`
	Weight            float64 `json:"weight"`
	NormalizedWeight  float64 `json:"normalized_weight"`
	TargetNotional    float64 `json:"target_notional"`
	AllocatedNotional float64 `json:"allocated_notional"`
	MaxNotional       float64 `json:"max_notional,omitempty"`
}

// Request is a full allocation input.
type Request struct {
	Profiles      []StrategyProfile `json:"profiles"`
	TotalNotional float64           `json:"total_notional"`
	ReserveRatio  float64           `json:"reserve_ratio"`
}

// Result is a full allocation output.
// Invariant: AllocationTotal <= AllocatableNotional and no row's
// AllocatedNotional exceeds its MaxNotional.
type Result struct {
	Rows                []Row   `json:"rows"`
	AllocatableNotional float64 `json:"allocatable_notional"`
	AllocationTotal     float64 `json:"allocation_total"`
	UnallocatedNotional float64 `json:"unallocated_notional"`
}

// Allocate distributes the allocatable budget across active strategy
// profiles proportional to weight, honoring per-profile caps and iteratively
// redistributing capped-off leftover to profiles with remaining headroom.
func Allocate(req Request) (Result, error) {
	allocatable := req.TotalNotional * (1 - req.ReserveRatio)

	var active []StrategyProfile
	totalWeight := 0.0
	for _, p := range req.Profiles {
		if p.Enabled && p.Weight > 0 {
			active = append(active, p)
			totalWeight += p.Weight
		}
	}
	if len(active) == 0 {
		return Result{}, ErrNoActiveStrategies
	}
	if totalWeight <= 0 {
		return Result{}, ErrNonPositiveTotalWeight
	}

	rows := make([]Row, len(active))
	for i, p := range active {
		nw := p.Weight / totalWeight
		target := allocatable * nw
		row := Row{
			StrategyID:       p.StrategyID,
			Weight:           p.Weight,
			NormalizedWeight: nw,
			TargetNotional:   target,
		}
		if p.MaxNotionalRatio > 0 {
			row.MaxNotional = allocatable * p.MaxNotionalRatio
			row.AllocatedNotional = math.Min(target, row.MaxNotional)
		} else {
			row.AllocatedNotional = target
		}
		rows[i] = row
	}

	redistribute(rows, allocatable)

	total := 0.0
	for _, r := range rows {
		total += r.AllocatedNotional
	}

	return Result{
		Rows:                rows,
		AllocatableNotional: allocatable,
		AllocationTotal:     total,
		UnallocatedNotional: allocatable - total,
	}, nil
}

// redistribute hands capped-off leftover to rows still below their cap,
// proportional to normalized weight. Each pass either shrinks the leftover or
// runs out of headroom, so the loop terminates.
func redistribute(rows []Row, allocatable float64) {
	for {
		allocated := 0.0
		for _, r := range rows {
			allocated += r.AllocatedNotional
		}
		leftover := allocatable - allocated
		if leftover <= epsilon {
			return
		}

		eligibleWeight := 0.0
		for _, r := range rows {
			if hasHeadroom(r) {
				eligibleWeight += r.NormalizedWeight
			}
		}
		if eligibleWeight <= 0 {
			return
		}

		distributed := 0.0
		for i := range rows {
			if !hasHeadroom(rows[i]) {
				continue
			}
			share := leftover * rows[i].NormalizedWeight / eligibleWeight
			if rows[i].MaxNotional > 0 {
				share = math.Min(share, rows[i].MaxNotional-rows[i].AllocatedNotional)
			}
			rows[i].AllocatedNotional += share
			distributed += share
		}
		if distributed <= epsilon {
			return
		}
	}
}

func hasHeadroom(r Row) bool {
	return r.MaxNotional == 0 || r.AllocatedNotional < r.MaxNotional-epsilon
}
