package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [task-id]",
	Short: "Resume a paused task",
	Long: `Continue a paused task from the exact point it was frozen at.

A stopped task cannot be resumed; the controller rejects the request with
a state conflict.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		client := NewClient(GetServerURL())
		if err := client.ResumeTask(taskID); err != nil {
			return fmt.Errorf("failed to resume task: %w", err)
		}

		fmt.Printf("Task %s resumed\n", taskID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
