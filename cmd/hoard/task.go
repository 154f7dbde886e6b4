package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoardlabs/hoard/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, claim, and advance coordination tasks",
}

var (
	taskCreateDesc       string
	taskCreatePayload    string
	taskCreatePriority   int
	taskCreateCapability string
	taskCreateMaxAtt     int
	taskCreateDeps       []string

	taskListStatus string
	taskListAgent  string
	taskListLimit  int

	taskPollAgent string
	taskPollCaps  []string
	taskPollLimit int

	taskAgent   string
	taskSummary string
	taskErrMsg  string
	taskReason  string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Enqueue a task",
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

		p := store.CreateTaskParams{
			Name:        args[0],
			Priority:    taskCreatePriority,
			MaxAttempts: taskCreateMaxAtt,
			DependsOn:   taskCreateDeps,
		}
		if taskCreateDesc != "" {
			p.Description = &taskCreateDesc
		}
		if taskCreatePayload != "" {
			p.Payload = &taskCreatePayload
		}
		if taskCreateCapability != "" {
			p.RequiresCapability = &taskCreateCapability
		}

		t, err := svcs.tsk.Create(cmd.Context(), p)
		if err != nil {
			return err
		}
		return printJSON(t)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one task",
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

		t, err := svcs.tsk.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(t)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
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

		ts, err := svcs.tsk.List(taskListStatus, taskListAgent, taskListLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"tasks": ts})
	},
}

var taskPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Show claimable tasks for an agent",
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

		ts, err := svcs.tsk.Poll(cmd.Context(), taskPollAgent, taskPollCaps, taskPollLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"tasks": ts})
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a queued task",
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

		t, err := svcs.tsk.Claim(cmd.Context(), args[0], taskAgent)
		if err != nil {
			return err
		}
		if t == nil {
			return printJSON(map[string]any{"claimed": false})
		}
		return printJSON(map[string]any{"claimed": true, "task": t})
	},
}

func taskTransition(verb string, run func(cmd *cobra.Command, svcs *cliServices, id string) (bool, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		svcs, err := a.services()
		if err != nil {
			return err
		}
		defer svcs.close()

		ok, err := run(cmd, svcs, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s not in the expected state for %s", args[0], verb)
		}
		fmt.Println(verb, args[0])
		return nil
	}
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Mark a claimed task as running",
	Args:  cobra.ExactArgs(1),
	RunE: taskTransition("started", func(cmd *cobra.Command, svcs *cliServices, id string) (bool, error) {
		return svcs.tsk.Start(cmd.Context(), id, taskAgent)
	}),
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a running task as done",
	Args:  cobra.ExactArgs(1),
	RunE: taskTransition("completed", func(cmd *cobra.Command, svcs *cliServices, id string) (bool, error) {
		var summary *string
		if taskSummary != "" {
			summary = &taskSummary
		}
		return svcs.tsk.Complete(cmd.Context(), id, taskAgent, summary)
	}),
}

var taskFailCmd = &cobra.Command{
	Use:   "fail <task-id>",
	Short: "Record a task failure (requeues while attempts remain)",
	Args:  cobra.ExactArgs(1),
	RunE: taskTransition("failed", func(cmd *cobra.Command, svcs *cliServices, id string) (bool, error) {
		var msg *string
		if taskErrMsg != "" {
			msg = &taskErrMsg
		}
		return svcs.tsk.Fail(cmd.Context(), id, taskAgent, msg)
	}),
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task that has not completed",
	Args:  cobra.ExactArgs(1),
	RunE: taskTransition("cancelled", func(cmd *cobra.Command, svcs *cliServices, id string) (bool, error) {
		var reason *string
		if taskReason != "" {
			reason = &taskReason
		}
		return svcs.tsk.Cancel(cmd.Context(), id, reason)
	}),
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskCreateDesc, "description", "", "task description")
	taskCreateCmd.Flags().StringVar(&taskCreatePayload, "payload", "", "opaque JSON payload")
	taskCreateCmd.Flags().IntVar(&taskCreatePriority, "priority", 5, "lower runs first")
	taskCreateCmd.Flags().StringVar(&taskCreateCapability, "capability", "", "capability an agent must hold to claim")
	taskCreateCmd.Flags().IntVar(&taskCreateMaxAtt, "max-attempts", 3, "attempts before the task fails for good")
	taskCreateCmd.Flags().StringSliceVar(&taskCreateDeps, "depends-on", nil, "task ids that must complete first")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status")
	taskListCmd.Flags().StringVar(&taskListAgent, "agent", "", "filter by assigned agent")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 50, "maximum tasks")

	taskPollCmd.Flags().StringVar(&taskPollAgent, "agent", "", "polling agent id")
	taskPollCmd.Flags().StringSliceVar(&taskPollCaps, "capabilities", nil, "capabilities the agent holds")
	taskPollCmd.Flags().IntVar(&taskPollLimit, "limit", 10, "maximum tasks")
	taskPollCmd.MarkFlagRequired("agent")

	for _, c := range []*cobra.Command{taskClaimCmd, taskStartCmd, taskCompleteCmd, taskFailCmd} {
		c.Flags().StringVar(&taskAgent, "agent", "", "acting agent id")
		c.MarkFlagRequired("agent")
	}
	taskCompleteCmd.Flags().StringVar(&taskSummary, "summary", "", "output summary")
	taskFailCmd.Flags().StringVar(&taskErrMsg, "error", "", "failure message")
	taskCancelCmd.Flags().StringVar(&taskReason, "reason", "", "cancellation reason")

	taskCmd.AddCommand(
		taskCreateCmd, taskGetCmd, taskListCmd, taskPollCmd,
		taskClaimCmd, taskStartCmd, taskCompleteCmd, taskFailCmd, taskCancelCmd,
	)
	rootCmd.AddCommand(taskCmd)
}
