package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"intent-guard/internal/breaker"
	"intent-guard/internal/executor"
	"intent-guard/internal/interfaces"
	"intent-guard/internal/pipeline"
	"intent-guard/internal/types"
)

type staticDecider struct {
	proposals []types.RawProposal
}

func (d *staticDecider) Propose(_ context.Context, _ types.RiskContext) ([]types.RawProposal, error) {
	return d.proposals, nil
}

var _ interfaces.Decider = (*staticDecider)(nil)

// NewProposeCommand creates the propose command: a one-shot cycle fed from a
// JSON file instead of the configured decider.
func NewProposeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose [proposals.json]",
		Short: "Submit a batch of proposals",
		Long: `Run one supervision and screening cycle over a JSON array of raw
proposals, read from the given file or stdin.

Example:
  guard propose proposals.json
  echo '[{"action":"BUY","symbol":"INFY","qty":10,"price":1500}]' | guard propose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropose(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runPropose(cmd *cobra.Command, opts *RootOptions, args []string) error {
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

	var proposals []types.RawProposal
	if err := json.Unmarshal(raw, &proposals); err != nil {
		return fmt.Errorf("parse proposals: %w", err)
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	breakers := breaker.NewRegistry(breaker.Policy{
		FailThreshold: a.cfg.Breaker.FailThreshold,
		CooldownSec:   a.cfg.Breaker.CooldownSec,
	})
	p := pipeline.New(a.cfg, &staticDecider{proposals: proposals}, executor.NewPaper(), a.states, a.journal, breakers)

	res, err := p.Step(cmd.Context())
	if err != nil {
		return err
	}

	if err := emit(cmd, opts, res, func() string {
		return fmt.Sprintf("proposals=%d rejected=%d blocked=%d persisted=%d executed=%d",
			res.Proposals, res.Rejected, res.Blocked, len(res.Persisted), len(res.Executed))
	}); err != nil {
		return err
	}

	if res.Proposals > 0 && len(res.Persisted) == 0 && len(res.Executed) == 0 {
		return &ExitError{Code: ExitPolicyBlocked, Err: fmt.Errorf("all %d proposals were rejected or blocked", res.Proposals)}
	}
	return nil
}
