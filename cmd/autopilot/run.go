package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nearautopilot/internal/orchestrator"
	"nearautopilot/pkg/types"
)

var (
	runConfigPath string
	runIntervalMs int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator on a fixed interval until stopped",
	RunE:  runLoop,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to the JSON config file (required)")
	runCmd.Flags().IntVar(&runIntervalMs, "interval-ms", 30_000, "delay between ticks, in milliseconds")
	runCmd.MarkFlagRequired("config")
}

func runLoop(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(runConfigPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.httpServer != nil {
		go func() {
			if err := a.httpServer.Start(); err != nil {
				a.logger.Error("introspection surface failed", "error", err)
			}
		}()
		defer a.httpServer.Stop()
	}

	a.logger.Info("autopilot starting", "intervalMs", runIntervalMs)

	err = a.orchestrator.RunLoop(ctx, orchestrator.LoopOptions{
		IntervalMs: runIntervalMs,
		OnTick:     func(result types.TickResult) { logTick(a, result) },
	})
	if err != nil {
		return err
	}

	a.logger.Info("autopilot stopped")
	return nil
}

func logTick(a *app, result types.TickResult) {
	if result.Halted {
		a.logger.Error("tick halted", "tickId", result.TickID, "errors", len(result.Errors))
		return
	}
	a.logger.Info("tick completed", "tickId", result.TickID,
		"bids", len(result.BidDecisions), "submissions", len(result.ExecutionDecisions),
		"settlements", len(result.Settlements), "errors", len(result.Errors))
}
