// Command autopilot runs and inspects the NEAR job-marketplace bidding
// autopilot. See internal/orchestrator for the tick pipeline each
// subcommand drives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
