package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [task-id]",
	Short: "Pause a running task",
	Long: `Freeze a running task in place.

The browser session is suspended with its pages, cookies and in-flight
scripts intact. The command returns once the worker has acknowledged the
freeze; resume continues the run from the same point.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		client := NewClient(GetServerURL())
		if err := client.PauseTask(taskID); err != nil {
			return fmt.Errorf("failed to pause task: %w", err)
		}

		fmt.Printf("Task %s paused\n", taskID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}
