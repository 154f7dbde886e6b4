package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardlabs/hoard/internal/dispatch"
	"github.com/hoardlabs/hoard/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Speak MCP over stdio against the local database",
	Long: `Runs a Model Context Protocol server on stdin/stdout. Tool calls hit
the same registry the HTTP API uses. Writes take the cross-process write
lock per call, so an MCP process coexists with a running 'hoard serve'.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	svcs, err := a.services()
	if err != nil {
		return err
	}
	defer svcs.close()

	registry := dispatch.NewRegistry(svcs.mem, svcs.tsk, a.statusFunc(svcs.db), a.logger)
	server := mcp.NewServer(registry, os.Stdin, os.Stdout, version, a.logger)
	return server.Run(cmd.Context())
}
