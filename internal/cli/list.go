package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent intents",
		Long: `List the most recent intents with their current status, one row
per intent, latest status wins.

Example:
  guard list --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 = all)")
	return cmd
}

func runList(cmd *cobra.Command, opts *RootOptions, limit int) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := a.approvals.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	return emit(cmd, opts, rows, func() string {
		if len(rows) == 0 {
			return "no intents"
		}
		var b strings.Builder
		for _, r := range rows {
			line := fmt.Sprintf("%s  %-16s  %s", r.Time, r.Status, r.IntentID)
			if r.Intent != nil {
				line += fmt.Sprintf("  %s %s x%d @%.2f", r.Intent.Action, r.Intent.Symbol, r.Intent.Qty, r.Intent.Price)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
