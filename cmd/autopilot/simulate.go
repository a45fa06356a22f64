package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nearautopilot/internal/config"
	"nearautopilot/internal/simulate"
)

var (
	simulateInputPath  string
	simulatePolicyPath string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Project the bid/withdraw/submit decisions for a static snapshot, with no I/O",
	Long: "Simulate reads a JSON snapshot (jobs, bids, tracked bids, and submit " +
		"attempt state) and prints the decisions the orchestrator would make " +
		"against it, including a deterministic digest that is byte-identical " +
		"for byte-identical input.",
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateInputPath, "input", "", "path to a JSON file matching simulate.Input (required)")
	simulateCmd.Flags().StringVar(&simulatePolicyPath, "policy", "", "optional path to a JSON policy override file")
	simulateCmd.MarkFlagRequired("input")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(simulateInputPath)
	if err != nil {
		return fmt.Errorf("simulate: read input: %w", err)
	}

	input, err := simulate.DecodeInput(raw)
	if err != nil {
		return err
	}

	if simulatePolicyPath != "" {
		rawPolicy, err := os.ReadFile(simulatePolicyPath)
		if err != nil {
			return fmt.Errorf("simulate: read policy override: %w", err)
		}
		var override config.PolicyOverride
		if err := json.Unmarshal(rawPolicy, &override); err != nil {
			return fmt.Errorf("simulate: decode policy override: %w", err)
		}
		input.PolicyOverride = override
	}

	output, err := simulate.SimulateTick(input)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("simulate: encode output: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
