package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nearautopilot/internal/config"
	"nearautopilot/internal/market"
)

var (
	doctorConfigPath string
	doctorSkipMarket bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate config and check connectivity to the store and market",
	Long: "Doctor loads and validates the config file, opens the configured " +
		"state store and round-trips a throwaway key through it, and (unless " +
		"--skip-market is set) calls the market API for a single job to " +
		"confirm reachability and credentials. It makes no bids, submissions, " +
		"or writes beyond the throwaway health-check key.",
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorConfigPath, "config", "", "path to the JSON config file (required)")
	doctorCmd.Flags().BoolVar(&doctorSkipMarket, "skip-market", false, "skip the market API reachability check")
	doctorCmd.MarkFlagRequired("config")
}

const doctorHealthCheckKey = "near_autopilot_healthcheck"

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "checking config...")
	cfg, err := config.Load(doctorConfigPath)
	if err != nil {
		return fmt.Errorf("doctor: config invalid: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "  ok")

	fmt.Fprintln(cmd.OutOrStdout(), "checking policy...")
	if _, err := config.Resolve(cfg.Policy); err != nil {
		return fmt.Errorf("doctor: policy invalid: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "  ok")

	fmt.Fprintln(cmd.OutOrStdout(), "checking state store...")
	st, err := openStore(cfg.State)
	if err != nil {
		return fmt.Errorf("doctor: cannot open store: %w", err)
	}
	defer st.Close()

	probe := fmt.Sprintf("%s:%d", doctorHealthCheckKey, time.Now().UnixNano())
	if err := st.Set(doctorHealthCheckKey, probe); err != nil {
		return fmt.Errorf("doctor: store write failed: %w", err)
	}
	got, found, err := st.Get(doctorHealthCheckKey)
	if err != nil || !found || got != probe {
		return fmt.Errorf("doctor: store round-trip failed: found=%v err=%v", found, err)
	}
	if err := st.Del(doctorHealthCheckKey); err != nil {
		return fmt.Errorf("doctor: store cleanup failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "  ok")

	if doctorSkipMarket {
		fmt.Fprintln(cmd.OutOrStdout(), "skipping market reachability check (--skip-market)")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "checking market API reachability...")
	marketClient := market.New(market.Config{
		BaseURL:        cfg.Market.BaseURL,
		APIKey:         cfg.Market.APIKey,
		AuthHeader:     cfg.Market.AuthHeader,
		TimeoutMs:      cfg.Market.TimeoutMs,
		RetryAttempts:  cfg.Market.Retry.Attempts,
		RetryBackoffMs: cfg.Market.Retry.BackoffMs,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if _, err := marketClient.ListJobs(ctx, market.ListJobsParams{Limit: 1}); err != nil {
		return fmt.Errorf("doctor: market API unreachable: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "  ok")

	fmt.Fprintln(cmd.OutOrStdout(), "all checks passed")
	return nil
}
