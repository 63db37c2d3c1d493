package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"intent-guard/internal/approval"
	"intent-guard/internal/intentlog"
	"intent-guard/internal/state"
	"intent-guard/internal/store"
)

// app bundles the wiring every subcommand needs: config, state store,
// journal, and the approval service on top of them.
type app struct {
	cfg       *store.Config
	states    *state.Store
	journal   *intentlog.Log
	approvals *approval.Service
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := store.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	states, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	journal := intentlog.New(cfg.JournalDir)
	return &app{
		cfg:       cfg,
		states:    states,
		journal:   journal,
		approvals: approval.NewService(states, journal),
	}, nil
}

func (a *app) close() {
	if a.states != nil {
		_ = a.states.Close()
	}
}

// emit prints v as indented JSON when --format json is set, otherwise the
// text rendering.
func emit(cmd *cobra.Command, opts *RootOptions, v any, text func() string) error {
	if opts.Format == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), text())
	return nil
}
