package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoardlabs/hoard/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store, fetch, search, and retire memories",
}

var (
	memPutSlot        string
	memPutKey         string
	memPutAgent       string
	memPutScope       string
	memPutScopeID     string
	memPutTags        []string
	memPutSensitivity string
	memPutTTLDays     int

	memGetScope   string
	memGetScopeID string

	memSearchLimit int

	memSupersedeContent string
	memSupersedeAgent   string
	memSupersedeTags    []string

	memRetractAgent  string
	memRetractReason string

	memHistoryLimit int
)

var memoryPutCmd = &cobra.Command{
	Use:   "put <content>",
	Short: "Write a memory, superseding your previous value in the slot",
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

		p := memory.PutParams{
			Slot:        memPutSlot,
			Key:         memPutKey,
			ScopeType:   memPutScope,
			AgentID:     memPutAgent,
			Content:     args[0],
			Tags:        memPutTags,
			Sensitivity: memPutSensitivity,
		}
		if memPutScopeID != "" {
			p.ScopeID = &memPutScopeID
		}
		if cmd.Flags().Changed("ttl-days") {
			p.TTLDays = &memPutTTLDays
		}

		m, err := svcs.mem.Put(cmd.Context(), p)
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <slot-or-key>",
	Short: "Fetch the live memories in a slot",
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

		var scopeID *string
		if memGetScopeID != "" {
			scopeID = &memGetScopeID
		}
		memories, err := svcs.mem.Get(args[0], memGetScope, scopeID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"memories": memories})
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid keyword and vector search over live memories",
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

		results, err := svcs.mem.Search(cmd.Context(), args[0], memSearchLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"results": results})
	},
}

var memorySupersedeCmd = &cobra.Command{
	Use:   "supersede <memory-id>",
	Short: "Replace a live memory with new content in the same slot",
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

		m, err := svcs.mem.Supersede(cmd.Context(), args[0], memSupersedeContent, memSupersedeAgent, memSupersedeTags)
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

var memoryRetractCmd = &cobra.Command{
	Use:   "retract <memory-id>",
	Short: "Retract a live memory",
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

		var reason *string
		if memRetractReason != "" {
			reason = &memRetractReason
		}
		if err := svcs.mem.Retract(cmd.Context(), args[0], memRetractAgent, reason); err != nil {
			return err
		}
		fmt.Println("retracted", args[0])
		return nil
	},
}

var memoryHistoryCmd = &cobra.Command{
	Use:   "history <memory-id>",
	Short: "Show the audit trail of a memory",
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

		if _, err := svcs.mem.GetByID(args[0]); err != nil {
			return err
		}
		events, err := svcs.mem.History(args[0], memHistoryLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"events": events})
	},
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired memories",
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

		n, err := svcs.mem.Prune(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d memories\n", n)
		return nil
	},
}

func init() {
	memoryPutCmd.Flags().StringVar(&memPutSlot, "slot", "", "slot address (pref:|fact:|ctx:|decision:|event: namespace)")
	memoryPutCmd.Flags().StringVar(&memPutKey, "key", "", "bare key, mapped into the ctx: namespace")
	memoryPutCmd.Flags().StringVar(&memPutAgent, "agent", "", "agent id writing the memory")
	memoryPutCmd.Flags().StringVar(&memPutScope, "scope", "user", "scope type (user, project, entity, domain)")
	memoryPutCmd.Flags().StringVar(&memPutScopeID, "scope-id", "", "scope identifier for non-user scopes")
	memoryPutCmd.Flags().StringSliceVar(&memPutTags, "tags", nil, "tags")
	memoryPutCmd.Flags().StringVar(&memPutSensitivity, "sensitivity", "", "sensitivity label")
	memoryPutCmd.Flags().IntVar(&memPutTTLDays, "ttl-days", 0, "expiry in days, 0 expires immediately")
	memoryPutCmd.MarkFlagRequired("agent")

	memoryGetCmd.Flags().StringVar(&memGetScope, "scope", "user", "scope type")
	memoryGetCmd.Flags().StringVar(&memGetScopeID, "scope-id", "", "scope identifier for non-user scopes")

	memorySearchCmd.Flags().IntVar(&memSearchLimit, "limit", 10, "maximum results")

	memorySupersedeCmd.Flags().StringVar(&memSupersedeContent, "content", "", "replacement content")
	memorySupersedeCmd.Flags().StringVar(&memSupersedeAgent, "agent", "", "agent id performing the supersede")
	memorySupersedeCmd.Flags().StringSliceVar(&memSupersedeTags, "tags", nil, "tags for the replacement")
	memorySupersedeCmd.MarkFlagRequired("content")
	memorySupersedeCmd.MarkFlagRequired("agent")

	memoryRetractCmd.Flags().StringVar(&memRetractAgent, "agent", "", "agent id performing the retraction")
	memoryRetractCmd.Flags().StringVar(&memRetractReason, "reason", "", "why the memory is retracted")
	memoryRetractCmd.MarkFlagRequired("agent")

	memoryHistoryCmd.Flags().IntVar(&memHistoryLimit, "limit", 100, "maximum events")

	memoryCmd.AddCommand(
		memoryPutCmd, memoryGetCmd, memorySearchCmd,
		memorySupersedeCmd, memoryRetractCmd,
		memoryHistoryCmd, memoryPruneCmd,
	)
	rootCmd.AddCommand(memoryCmd)
}
