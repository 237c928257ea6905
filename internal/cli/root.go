// Package cli defines the Cobra command tree for the reverie CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "A perpetual-memory AI companion",
	Long: `Reverie gives AI conversations a persistent, ever-growing memory.

Every turn is recorded, compressed, and indexed; every reply is grounded in
a token-budgeted context assembled from recent conversation, starred
moments, standing instructions, long-term memory, and uploaded documents.

Run 'reverie setup' to configure providers, then 'reverie chat' to talk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(
		newChatCmd(),
		newUploadCmd(),
		newFilesCmd(),
		newStarCmd(),
		newInstructCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newWrapCmd(),
		newSetupCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reverie %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
