package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Inspect and resolve near-duplicate memories",
}

var (
	duplicatesAll      bool
	duplicatesLimit    int
	duplicateResolveBy string
	duplicateResolveAs string
)

var duplicatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detected duplicate pairs",
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

		ds, err := svcs.mem.Duplicates(!duplicatesAll, duplicatesLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"duplicates": ds})
	},
}

var duplicatesResolveCmd = &cobra.Command{
	Use:   "resolve <duplicate-id>",
	Short: "Mark a duplicate pair as resolved",
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

		if err := svcs.mem.ResolveDuplicate(cmd.Context(), args[0], duplicateResolveAs, duplicateResolveBy); err != nil {
			return err
		}
		fmt.Println("resolved", args[0])
		return nil
	},
}

func init() {
	duplicatesListCmd.Flags().BoolVar(&duplicatesAll, "all", false, "include resolved pairs")
	duplicatesListCmd.Flags().IntVar(&duplicatesLimit, "limit", 50, "maximum pairs")

	duplicatesResolveCmd.Flags().StringVar(&duplicateResolveAs, "resolution", "", "how the pair was settled")
	duplicatesResolveCmd.Flags().StringVar(&duplicateResolveBy, "by", "", "resolving agent id")
	duplicatesResolveCmd.MarkFlagRequired("resolution")
	duplicatesResolveCmd.MarkFlagRequired("by")

	duplicatesCmd.AddCommand(duplicatesListCmd, duplicatesResolveCmd)
	rootCmd.AddCommand(duplicatesCmd)
}
