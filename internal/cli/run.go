package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [instructions]",
	Short: "Run a new browser task",
	Long: `Submit a browser automation task described in natural language.

The controller queues the task and places it on a worker with free capacity,
where it runs in a dedicated headless browser session.

Example:
  skiff run "open news.ycombinator.com and collect the top 5 headlines"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instructions := args[0]

		client := NewClient(GetServerURL())
		task, err := client.RunTask(instructions)
		if err != nil {
			return fmt.Errorf("failed to run task: %w", err)
		}

		fmt.Println("Task created successfully:")
		fmt.Printf("  ID:     %s\n", task.TaskID)
		fmt.Printf("  Status: %s\n", task.Status)
		if task.WorkerID != "" {
			fmt.Printf("  Worker: %s\n", task.WorkerID)
		}

		if IsVerbose() {
			fmt.Printf("\nInstructions: %s\n", task.Instructions)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
