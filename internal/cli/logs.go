package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"skiff/internal/types"
)

var (
	logsTail int
)

var logsCmd = &cobra.Command{
	Use:   "logs [task-id]",
	Short: "Fetch browser session logs for a task",
	Long:  `Fetch and display the browser container logs for a specific task.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		client := NewClient(GetServerURL())

		task, err := client.GetTask(taskID)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}

		if task.Status == types.TaskPending {
			return fmt.Errorf("task is not running yet (status: %s)", task.Status)
		}

		if task.WorkerID == "" || task.SessionID == "" {
			return fmt.Errorf("task has not been placed on a worker yet")
		}

		logs, err := client.GetTaskLogs(task, logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVar(&logsTail, "tail", 100, "number of lines to show from the end of the logs")
}
