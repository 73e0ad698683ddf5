// agent runs the logistics auction agent against a simulated competitor.
//
// Usage:
//
//	agent run --scenario=<file> [--config=<file>] [--metrics-addr=:9090] [--linger]
//	agent token --subject=<name> [--role=viewer] [--ttl=24h]
//	agent version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"logibid/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Time-bounded bidding agent for pickup-and-delivery task auctions",
	Long: "agent prices auctioned transport tasks from optimized route plans and\n" +
		"positional values, and plans routes for the tasks it wins.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = buildinfo.Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
