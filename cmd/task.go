package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbtz/kbtz-workspace/config"
	"github.com/kbtz/kbtz-workspace/taskstore"
)

// newTaskCmd exposes a minimal CRUD/claim surface over the TaskStore. The
// task database schema itself, and any richer argument handling, are
// external glue; this just needs enough plumbing to create and inspect
// tasks without a running Orchestrator.
func newTaskCmd() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage the shared task queue",
	}

	taskCmd.AddCommand(newTaskAddCmd())
	taskCmd.AddCommand(newTaskListCmd())
	taskCmd.AddCommand(newTaskDoneCmd())
	taskCmd.AddCommand(newTaskReleaseCmd())
	return taskCmd
}

func openStore() (taskstore.Store, error) {
	cfg := config.LoadConfig()
	return taskstore.NewSQLiteStore(cfg.DBPath)
}

func newTaskAddCmd() *cobra.Command {
	var parent, note, assignee string
	var paused bool

	c := &cobra.Command{
		Use:   "add <name> <description>",
		Short: "Create a new task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := store.CreateTask(args[0], args[1], parent, note, assignee, paused)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", task.Name, task.Status)
			return nil
		},
	}
	c.Flags().StringVar(&parent, "parent", "", "parent task name")
	c.Flags().StringVar(&note, "note", "", "initial note")
	c.Flags().StringVar(&assignee, "assignee", "", "pre-assign to this session id")
	c.Flags().BoolVar(&paused, "paused", false, "create the task already paused")
	return c
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tasks {
				fmt.Fprintf(out, "%-24s %-10s %-12s %s\n", t.Name, t.Status, t.Assignee, t.Description)
			}
			return nil
		},
	}
}

func newTaskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <name>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.MarkDone(args[0])
		},
	}
}

func newTaskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <name> <session-id>",
		Short: "Release a task's claim (matching the orchestrator's own release-on-reap path)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Release(args[0], args[1])
		},
	}
}
