// Package commands implements the microcell CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "microcell",
		Short: "microcell - state-based workcell orchestrator",
		Long: `microcell is a micro state-based orchestrator for cyber-physical
workcells. Operators describe desired outcomes as goal predicates over a
shared key/value state; the core plans a sequence of operations, drives each
through a life-cycle state machine with retries and timeouts, fires guarded
automatic transitions, and executes structured operating procedures.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newGoalCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}
