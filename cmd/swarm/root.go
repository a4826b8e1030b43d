package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Agent swarm orchestrator",
	Long: `Swarm coordinates a fleet of specialized agents on shared work:
it delegates tasks along a dependency graph, routes typed messages
between agents, arbitrates conflicts, keeps tiered agent memory, and
adapts agent selection from observed performance.

Run 'swarm serve' to start the orchestrator and its HTTP API, then
drive it with 'swarm status' or any HTTP client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
