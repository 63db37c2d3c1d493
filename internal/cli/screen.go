package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"intent-guard/internal/allocator"
	"intent-guard/internal/guard"
	"intent-guard/internal/store"
	"intent-guard/internal/types"
)

// NewScreenCommand creates the screen command.
func NewScreenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen [intents.json]",
		Short: "Screen a batch of intents",
		Long: `Run budget and conflict screening over a JSON array of intents,
read from the given file or stdin, without persisting anything.

Example:
  guard screen intents.json
  cat intents.json | guard screen --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreen(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runScreen(cmd *cobra.Command, opts *RootOptions, args []string) error {
	var raw []byte
	var err error
	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return err
	}

	var intents []types.Intent
	if err := json.Unmarshal(raw, &intents); err != nil {
		return fmt.Errorf("parse intents: %w", err)
	}

	cfg, err := store.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	var allocation *allocator.Result
	if len(cfg.Budget.Strategies) > 0 && cfg.Budget.TotalNotional > 0 {
		profiles := make([]allocator.StrategyProfile, 0, len(cfg.Budget.Strategies))
		for _, s := range cfg.Budget.Strategies {
			profiles = append(profiles, allocator.StrategyProfile{
				StrategyID:       s.StrategyID,
				Enabled:          s.Enabled,
				Weight:           s.Weight,
				MaxNotionalRatio: s.MaxNotionalRatio,
			})
		}
		if res, aerr := allocator.Allocate(allocator.Request{
			Profiles:      profiles,
			TotalNotional: cfg.Budget.TotalNotional,
			ReserveRatio:  cfg.Budget.ReserveRatio,
		}); aerr == nil {
			allocation = &res
		}
	}

	res := guard.Screen(guard.Request{
		Intents:          intents,
		Allocation:       allocation,
		SymbolCaps:       cfg.Caps.PerSymbol,
		DefaultSymbolCap: cfg.Caps.DefaultSymbolNotional,
	})

	if err := emit(cmd, opts, res, func() string {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("approved=%d blocked=%d\n", len(res.Approved), len(res.Blocked)))
		for _, in := range res.Approved {
			b.WriteString(fmt.Sprintf("  APPROVED %s %s x%d @%.2f\n", in.Action, in.Symbol, in.Qty, in.Price))
		}
		for _, bl := range res.Blocked {
			b.WriteString(fmt.Sprintf("  BLOCKED  %s %s: %s\n", bl.Side, bl.Symbol, bl.Reason))
		}
		return strings.TrimRight(b.String(), "\n")
	}); err != nil {
		return err
	}

	if len(intents) > 0 && len(res.Approved) == 0 {
		return &ExitError{Code: ExitPolicyBlocked, Err: fmt.Errorf("all %d intents were blocked", len(intents))}
	}
	return nil
}
