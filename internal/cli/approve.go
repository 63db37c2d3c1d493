package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"intent-guard/internal/approval"
	"intent-guard/internal/executor"
)

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "approve [intent-id]",
		Short: "Approve a pending intent",
		Long: `Approve a pending intent, optionally claiming and executing it.

Without an intent id the most recently created intent is targeted. With
--execute the intent is claimed exclusively and run through the executor;
an already-executed intent returns its cached result without re-executing.

Example:
  guard approve
  guard approve 2f6b... --execute`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runApprove(cmd, rootOpts, id, execute)
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "claim and execute after approving")
	return cmd
}

func runApprove(cmd *cobra.Command, opts *RootOptions, id string, execute bool) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	// In DRY_RUN --execute simulates; in LIVE it also needs execution.enabled.
	executionEnabled := execute
	if a.cfg.Mode == "LIVE" && !a.cfg.Execution.Enabled {
		executionEnabled = false
	}

	res, err := a.approvals.Approve(cmd.Context(), approval.ApproveRequest{
		IntentID:         id,
		ExecutionEnabled: executionEnabled,
		Executor:         executor.NewPaper(),
	})
	if err != nil {
		return err
	}

	if err := emit(cmd, opts, res, func() string {
		if res.Blocked {
			return fmt.Sprintf("intent %s blocked: %s", res.IntentID, res.Message)
		}
		s := fmt.Sprintf("intent %s -> %s", res.IntentID, res.Status)
		if res.Note != "" {
			s += " (" + res.Note + ")"
		}
		if res.Execution != nil && res.Execution.OrderID != "" {
			s += " order_id=" + res.Execution.OrderID
		}
		return s
	}); err != nil {
		return err
	}

	if res.Blocked {
		code := ExitPolicyBlocked
		if res.Conflict {
			code = ExitStateConflict
		}
		return &ExitError{Code: code, Err: fmt.Errorf("%s", res.Message)}
	}
	return nil
}
