package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Autonomous bidding and submission agent for the NEAR job marketplace",
}
