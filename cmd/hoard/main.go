package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hoard",
	Short: "Local-first shared memory and task coordination for coding agents",
	Long: `hoard is a personal data layer backed by a single SQLite database.
Multiple agent processes read and write it concurrently; a file-lock
protocol and a single-writer coordinator keep the writes serialized.

Run a long-lived server with 'hoard serve', speak MCP over stdio with
'hoard mcp', or operate directly on the database with the one-shot
commands (memory, task, sync, migrate, doctor).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
