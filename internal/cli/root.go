// Package cli implements the loyalty command-line interface using Cobra.
// Driver commands run against the local state store; serve starts the daemon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loyalty",
	Short: "Driver loyalty engine: ride levels and VIP qualification",
	Long: `loyalty tracks driver ride-count levels and the VIP qualification cycle.

Rides move a driver through six levels of three sub-levels each, paying a
bonus per completed sub-level. At 4320 rides the driver becomes VIP and
qualifies days by online hours and rides, earning monthly and quarterly
bonuses.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
