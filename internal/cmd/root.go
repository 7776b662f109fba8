// Package cmd implements the metatot command line interface.
package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes. NoViableBranches is a defined outcome, distinct from crashes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitNoViableBranches = 2
)

var rootCmd = &cobra.Command{
	Use:   "metatot",
	Short: "Meta tree-of-thoughts planning engine",
	Long: `metatot runs tasks through a planning engine that decides, per task,
whether to answer directly or to explore a tree of reasoning branches scored
by active-inference free energy. Completed sessions are persisted as traces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("trace-db", "", "path to the trace database (default in-memory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(traceCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errNoViableBranches) {
			return ExitNoViableBranches
		}
		slog.Error("command failed", "error", err)
		return ExitError
	}
	return ExitOK
}
