package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nearautopilot/pkg/types"
)

var tickConfigPath string

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single orchestrator tick and exit",
	RunE:  runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.Flags().StringVar(&tickConfigPath, "config", "", "path to the JSON config file (required)")
	tickCmd.MarkFlagRequired("config")
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(tickConfigPath)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.orchestrator.RunTick(cmd.Context())
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	a.logger.Info("tick completed", "tickId", result.TickID, "halted", result.Halted,
		"bids", len(result.BidDecisions), "submissions", len(result.ExecutionDecisions),
		"settlements", len(result.Settlements), "errors", len(result.Errors))

	if result.Halted {
		return fmt.Errorf("tick halted: %s", summarizeErrors(result.Errors))
	}
	return nil
}

func summarizeErrors(errs []types.TickError) string {
	if len(errs) == 0 {
		return "no recorded errors"
	}
	return fmt.Sprintf("%d error(s), first: [%s] %s", len(errs), errs[0].Stage, errs[0].Message)
}
