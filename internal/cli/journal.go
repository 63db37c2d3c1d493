package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal <intent-id>",
		Short: "Show an intent's transition journal",
		Long: `Print the durable transition journal for one intent, oldest first,
including idempotent no-op entries.

Example:
  guard journal 2f6b... --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd, rootOpts, args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 = all)")
	return cmd
}

func runJournal(cmd *cobra.Command, opts *RootOptions, id string, limit int) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.states.ListJournal(cmd.Context(), id, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no journal entries for intent %s", id)
	}

	return emit(cmd, opts, entries, func() string {
		var b strings.Builder
		for _, e := range entries {
			from := string(e.FromState)
			if from == "" {
				from = "-"
			}
			ts := time.Unix(e.TS, 0).Format(time.RFC3339)
			b.WriteString(fmt.Sprintf("%s  %s -> %s  %s\n", ts, from, e.ToState, e.Reason))
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
