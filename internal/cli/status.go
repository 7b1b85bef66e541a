package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show a task's current status",
	Long:  `Fetch just the lifecycle status of a task (pending, running, paused, stopped, finished, failed).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetServerURL())

		status, err := client.GetTaskStatus(args[0])
		if err != nil {
			return fmt.Errorf("failed to get task status: %w", err)
		}

		fmt.Println(status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
