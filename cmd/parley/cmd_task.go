package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/types"
)

func init() {
	taskAddCmd.Flags().Float64Var(&taskPriority, "priority", store.DefaultPriority, "task priority")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 20, "how many tasks to list")
	taskCmd.AddCommand(taskAddCmd, taskShowCmd, taskListCmd, taskStatsCmd)
	rootCmd.AddCommand(taskCmd)
}

var (
	taskPriority  float64
	taskListLimit int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and enqueue tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <message-id>",
	Short: "Enqueue an answer task for a stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		input, _ := json.Marshal(map[string]string{"message_id": args[0]})
		id, err := st.EnqueueTask(context.Background(), store.TaskClassAnswerGeneration, input, taskPriority)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, id)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(context.Background(), types.TaskID(args[0]))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.ListRecentTasks(context.Background(), taskListLimit)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			line := fmt.Sprintf("%s  %-10s %-25s %s",
				t.CreatedAt.Format("2006-01-02 15:04:05"), t.Status, t.Class, t.ID)
			if t.Status == types.TaskFailed {
				line += fmt.Sprintf("  [%s] %s", t.ErrorModule, t.ErrorMessage)
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts per class and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.TaskStats(context.Background())
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Fprintf(os.Stdout, "%-30s %-10s %d\n", s.Class, s.Status, s.Count)
		}
		return nil
	},
}

// openStore connects to the configured database for one-shot commands.
func openStore() (*store.Store, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	st, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return st, nil
}
