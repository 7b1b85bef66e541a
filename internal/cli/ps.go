package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	psTaskID string
	psStatus string
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tasks",
	Long:  `List all tasks or get details of a specific task.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetServerURL())

		if psTaskID != "" {
			task, err := client.GetTask(psTaskID)
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}

			fmt.Println("Task Details:")
			fmt.Printf("  ID:       %s\n", task.TaskID)
			fmt.Printf("  Status:   %s\n", task.Status)
			if task.WorkerID != "" {
				fmt.Printf("  Worker:   %s\n", task.WorkerID)
			}
			if task.SessionID != "" {
				fmt.Printf("  Session:  %s\n", task.SessionID)
			}
			fmt.Printf("  Created:  %s\n", task.CreatedAt.Format(time.RFC3339))
			if task.StartedAt != nil {
				fmt.Printf("  Started:  %s\n", task.StartedAt.Format(time.RFC3339))
			}
			if task.PausedAt != nil {
				fmt.Printf("  Paused:   %s\n", task.PausedAt.Format(time.RFC3339))
			}
			if task.FinishedAt != nil {
				fmt.Printf("  Finished: %s\n", task.FinishedAt.Format(time.RFC3339))
			}
			if task.Error != "" {
				fmt.Printf("  Error:    %s\n", task.Error)
			}

			fmt.Printf("\nInstructions:\n  %s\n", task.Instructions)

			if task.Output != "" {
				fmt.Printf("\nOutput:\n%s\n", task.Output)
			}

			return nil
		}

		tasks, err := client.ListTasks(psStatus)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tSTATUS\tWORKER\tAGE\tTASK\n")

		for _, task := range tasks {
			age := time.Since(task.CreatedAt)
			ageStr := formatDuration(age)

			workerID := task.WorkerID
			if workerID == "" {
				workerID = "-"
			}

			_, _ = fmt.Fprintf(
				w, "%s\t%s\t%s\t%s\t%s\n",
				task.TaskID,
				task.Status,
				workerID,
				ageStr,
				truncate(task.Instructions, 48),
			)
		}

		_ = w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(psCmd)

	psCmd.Flags().StringVarP(&psTaskID, "task", "t", "", "show details for specific task ID")
	psCmd.Flags().StringVarP(&psStatus, "status", "s", "", "filter tasks by status")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
