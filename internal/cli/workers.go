package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List worker agents",
	Long:  `List all registered workers, their session load and liveness.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(GetServerURL())

		workers, err := client.ListWorkers()
		if err != nil {
			return fmt.Errorf("failed to list workers: %w", err)
		}

		if len(workers) == 0 {
			fmt.Println("No workers registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tHOSTNAME\tPORT\tSTATUS\tSESSIONS\tCAPACITY\tLAST HEARTBEAT\n")

		for _, worker := range workers {
			lastHeartbeat := time.Since(worker.LastHeartbeat)
			heartbeatStr := formatDuration(lastHeartbeat)

			_, _ = fmt.Fprintf(
				w, "%s\t%s\t%d\t%s\t%d\t%d\t%s ago\n",
				worker.WorkerID,
				worker.Hostname,
				worker.Port,
				worker.Status,
				worker.ActiveSessions,
				worker.Capacity,
				heartbeatStr,
			)
		}

		_ = w.Flush()

		if IsVerbose() {
			fmt.Printf("\nTotal workers: %d\n", len(workers))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(workersCmd)
}
