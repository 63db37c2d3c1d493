package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intent-guard/internal/allocator"
	"intent-guard/internal/store"
)

// NewAllocateCommand creates the allocate command.
func NewAllocateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Show the per-strategy budget allocation",
		Long: `Compute and print the per-strategy notional budgets derived from
the configured total, reserve ratio, weights and caps.

Example:
  guard allocate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, rootOpts)
		},
	}
	return cmd
}

func runAllocate(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := store.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	profiles := make([]allocator.StrategyProfile, 0, len(cfg.Budget.Strategies))
	for _, s := range cfg.Budget.Strategies {
		profiles = append(profiles, allocator.StrategyProfile{
			StrategyID:       s.StrategyID,
			Enabled:          s.Enabled,
			Weight:           s.Weight,
			MaxNotionalRatio: s.MaxNotionalRatio,
		})
	}

	res, err := allocator.Allocate(allocator.Request{
		Profiles:      profiles,
		TotalNotional: cfg.Budget.TotalNotional,
		ReserveRatio:  cfg.Budget.ReserveRatio,
	})
	if err != nil {
		return err
	}

	return emit(cmd, opts, res, func() string {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("allocatable=%.2f allocated=%.2f unallocated=%.2f\n",
			res.AllocatableNotional, res.AllocationTotal, res.UnallocatedNotional))
		for _, r := range res.Rows {
			line := fmt.Sprintf("  %-20s weight=%.2f alloc=%.2f", r.StrategyID, r.Weight, r.AllocatedNotional)
			if r.MaxNotional > 0 {
				line += fmt.Sprintf(" cap=%.2f", r.MaxNotional)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
