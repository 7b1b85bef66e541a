package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [task-id]",
	Short: "Stop a task",
	Long: `Stop a task permanently and tear down its browser session.

Stopped is a terminal state: the task keeps whatever output it produced,
but it can never be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		client := NewClient(GetServerURL())
		if err := client.StopTask(taskID); err != nil {
			return fmt.Errorf("failed to stop task: %w", err)
		}

		fmt.Printf("Task %s stopped\n", taskID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
