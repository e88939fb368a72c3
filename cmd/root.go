// Package cmd implements the oracle CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Oracle answers research questions about a codebase from indexed evidence",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flagVerbose)
		},
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.oracle/oracle.yaml)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(askCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(configCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
