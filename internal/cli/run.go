package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"intent-guard/internal/breaker"
	"intent-guard/internal/executor"
	"intent-guard/internal/logger"
	"intent-guard/internal/metrics"
	"intent-guard/internal/pipeline"
	"intent-guard/internal/strategist"
)

// NewRunCommand creates the run command: the polling loop that drives the
// full propose -> supervise -> screen -> approve cycle.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the guard loop",
		Long: `Start the guard's polling loop.

Each tick asks the configured decider for proposals, supervises and screens
them, persists survivors as pending intents, and auto-approves when the
config says so. SIGINT/SIGTERM stop the loop cleanly.

Example:
  guard run --config config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, rootOpts)
		},
	}
	return cmd
}

func runLoop(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if v := os.Getenv("GUARD_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		_ = a.journal.CompressOlder(n)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	breakers := breaker.NewRegistry(breaker.Policy{
		FailThreshold: a.cfg.Breaker.FailThreshold,
		CooldownSec:   a.cfg.Breaker.CooldownSec,
	})
	decider := strategist.NewGatedDecider(strategist.NewNoopDecider(), breakers, pipeline.BreakerScopeDecider)
	p := pipeline.New(a.cfg, decider, executor.NewPaper(), a.states, a.journal, breakers)

	if a.cfg.Mode == "DRY_RUN" {
		logger.Info(ctx, "Running in DRY_RUN mode: executions are simulated")
	}

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info(ctx, "Serving metrics", "addr", a.cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithErr(ctx, "Metrics server stopped", err)
			}
		}()
	}

	tick := time.NewTicker(time.Duration(a.cfg.PollSeconds) * time.Second)
	defer tick.Stop()

	logger.Info(ctx, "Guard started", "poll_seconds", a.cfg.PollSeconds, "mode", a.cfg.Mode)
	for {
		select {
		case <-tick.C:
			res, err := p.Step(ctx)
			if err != nil {
				logger.ErrorWithErr(ctx, "Step failed", err)
				continue
			}
			if res != nil && (len(res.Persisted) > 0 || len(res.Executed) > 0) {
				b, _ := json.Marshal(res)
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			}
		case s := <-sigc:
			logger.Info(ctx, "Shutting down", "signal", s.String())
			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsSrv.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
