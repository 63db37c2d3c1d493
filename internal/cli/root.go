package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"intent-guard/internal/approval"
	"intent-guard/internal/logger"
	"intent-guard/internal/state"
)

// Exit codes for scripting against the CLI.
const (
	ExitOK              = 0
	ExitInternal        = 1
	ExitPolicyBlocked   = 2
	ExitStateConflict   = 3
	ExitExecutionFailed = 4
)

// ExitError carries an explicit exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode classifies a command error into the CLI's exit code scheme.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var execErr *approval.ExecutionError
	if errors.As(err, &execErr) {
		return ExitExecutionFailed
	}
	if state.IsCASConflict(err) || errors.Is(err, state.ErrInvalidTransition) {
		return ExitStateConflict
	}
	return ExitInternal
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the guard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Intent execution guard",
		Long:  "Supervises trade intents through approval, screening and exclusive execution.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				cfg := logger.LoadConfigFromEnv()
				cfg.Level = "DEBUG"
				if err := logger.InitWithConfig(cfg); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.yaml", "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewProposeCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewAllocateCommand(opts))
	cmd.AddCommand(NewScreenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
