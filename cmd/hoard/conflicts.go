package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve cross-agent slot conflicts",
}

var (
	conflictsAll      bool
	conflictsLimit    int
	conflictResolveBy string
	conflictResolveAs string
)

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detected conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		svcs, err := a.services()
		if err != nil {
			return err
		}
		defer svcs.close()

		cs, err := svcs.mem.Conflicts(!conflictsAll, conflictsLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"conflicts": cs})
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Mark a conflict as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		svcs, err := a.services()
		if err != nil {
			return err
		}
		defer svcs.close()

		if err := svcs.mem.ResolveConflict(cmd.Context(), args[0], conflictResolveAs, conflictResolveBy); err != nil {
			return err
		}
		fmt.Println("resolved", args[0])
		return nil
	},
}

func init() {
	conflictsListCmd.Flags().BoolVar(&conflictsAll, "all", false, "include resolved conflicts")
	conflictsListCmd.Flags().IntVar(&conflictsLimit, "limit", 50, "maximum conflicts")

	conflictsResolveCmd.Flags().StringVar(&conflictResolveAs, "resolution", "", "how the conflict was settled")
	conflictsResolveCmd.Flags().StringVar(&conflictResolveBy, "by", "", "resolving agent id")
	conflictsResolveCmd.MarkFlagRequired("resolution")
	conflictsResolveCmd.MarkFlagRequired("by")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
