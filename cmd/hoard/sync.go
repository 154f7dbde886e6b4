package main

import (
	"fmt"

	"github.com/spf13/cobra"

	hoardsync "github.com/hoardlabs/hoard/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import watched markdown notes into the store",
}

var syncPaths []string

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync pass over the watch paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		paths := a.cfg.Sync.WatchPaths
		if len(syncPaths) > 0 {
			paths = syncPaths
		}
		if len(paths) == 0 {
			return fmt.Errorf("no watch paths configured; set sync.watch_paths or pass --path")
		}

		svcs, err := a.services()
		if err != nil {
			return err
		}
		defer svcs.close()

		runner := hoardsync.NewRunner(svcs.mem, a.cfg.Storage.DBPath, paths, a.logger)
		result, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	syncRunCmd.Flags().StringSliceVar(&syncPaths, "path", nil, "directories to scan (overrides config)")
	syncCmd.AddCommand(syncRunCmd)
	rootCmd.AddCommand(syncCmd)
}
