// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

// configFile is the shared --config flag every subcommand reads its
// engine configuration from.
var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pegasus",
	Short: "Pegasus - an embeddable timely-dataflow execution engine",
	Long: `Pegasus runs a resource-bounded, timestamped-batch dataflow graph across
a fixed set of cooperating workers, tracking progress and supporting nested
iteration and backward cancellation.

The engine is normally embedded in a host process via pkg/builder and
internal/job; this CLI exists to run a job plan end to end for local
development and smoke testing.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to run once.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"engine config file path (defaults baked in if omitted)")

	rootCmd.AddCommand(runCmd)
}
