package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [intent-id]",
		Short: "Reject a pending intent",
		Long: `Record a rejected marker for a pending intent. Intents that are
already approved, executing or executed cannot be rejected.

Example:
  guard reject 2f6b... --reason "stale signal"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runReject(cmd, rootOpts, id, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator_reject", "rejection reason")
	return cmd
}

func runReject(cmd *cobra.Command, opts *RootOptions, id, reason string) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.approvals.Reject(cmd.Context(), id, reason)
	if err != nil {
		return err
	}

	if err := emit(cmd, opts, res, func() string {
		if res.Blocked {
			return fmt.Sprintf("intent %s blocked: %s", res.IntentID, res.Message)
		}
		return fmt.Sprintf("intent %s -> %s", res.IntentID, res.Status)
	}); err != nil {
		return err
	}

	if res.Blocked {
		return &ExitError{Code: ExitPolicyBlocked, Err: fmt.Errorf("%s", res.Message)}
	}
	return nil
}
