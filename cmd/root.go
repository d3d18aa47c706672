package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	logLevel     string // Log verbosity level
	workloadPath string // Path to the YAML workload scenario
	showPlan     bool   // Print the per-function schedule table
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "swap-sched",
	Short: "Swap-in/swap-out scheduler for oversubscribed device memory",
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging parses and applies the --log-level flag.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(replayCmd)
}
