package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reconcileConfigPath string
	reconcileLimit      int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a full tick with a custom limit on completed jobs fetched for settlement",
	Long: "Reconcile runs the same pipeline as tick (bids, withdrawals, and " +
		"submissions included; no phase is skipped), but is intended for " +
		"operators who only care about the settlement cursor advancing " +
		"(for example after backfilling historical jobs). The --limit " +
		"flag bounds how many completed jobs are fetched from the market.",
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileConfigPath, "config", "", "path to the JSON config file (required)")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", defaultSettlementLimit, "max completed jobs to fetch for settlement")
	reconcileCmd.MarkFlagRequired("config")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := bootstrapWithSettlementLimit(reconcileConfigPath, reconcileLimit)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.orchestrator.RunTick(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	a.logger.Info("reconcile completed", "tickId", result.TickID, "halted", result.Halted,
		"settlements", len(result.Settlements), "errors", len(result.Errors))

	if result.Halted {
		return fmt.Errorf("reconcile halted: %s", summarizeErrors(result.Errors))
	}
	return nil
}
