package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"skiff/internal/types"
)

func TestRunCommand(t *testing.T) {
	t.Run(
		"run creates task successfully", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusCreated)
						_ = json.NewEncoder(w).Encode(
							types.Task{
								TaskID:       "task_01TEST",
								Instructions: "open example.com",
								Status:       types.TaskPending,
								CreatedAt:    time.Now(),
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "run",
				RunE: runCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"open example.com"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("run command error = %v", err)
			}
		},
	)

	t.Run(
		"run surfaces controller error", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusUnprocessableEntity)
						_ = json.NewEncoder(w).Encode(
							map[string]interface{}{
								"detail": []map[string]interface{}{
									{"loc": []string{"body", "task"}, "msg": "field required", "type": "value_error.missing"},
								},
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "run",
				RunE: runCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{""})

			if err := cmd.Execute(); err == nil {
				t.Error("run command expected error on 422")
			}
		},
	)
}

func TestPauseCommand(t *testing.T) {
	t.Run(
		"pause succeeds for running task", func(t *testing.T) {
			var gotMethod, gotPath, gotTaskID string

			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						gotMethod = r.Method
						gotPath = r.URL.Path
						gotTaskID = r.URL.Query().Get("task_id")

						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(map[string]string{})
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "pause",
				RunE: pauseCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("pause command error = %v", err)
			}

			if gotMethod != http.MethodPut {
				t.Errorf("method = %s, want PUT", gotMethod)
			}
			if gotPath != "/api/v1/pause-task" {
				t.Errorf("path = %s, want /api/v1/pause-task", gotPath)
			}
			if gotTaskID != "task_01TEST" {
				t.Errorf("task_id = %s, want task_01TEST", gotTaskID)
			}
		},
	)

	t.Run(
		"pause surfaces state conflict", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusConflict)
						_ = json.NewEncoder(w).Encode(
							map[string]string{"detail": "task task_01TEST is paused, cannot transition to paused"},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "pause",
				RunE: pauseCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err == nil {
				t.Error("pause command expected error on conflict")
			}
		},
	)
}

func TestResumeCommand(t *testing.T) {
	t.Run(
		"resume succeeds for paused task", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						if r.URL.Path != "/api/v1/resume-task" {
							t.Errorf("unexpected path: %s", r.URL.Path)
						}

						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(map[string]string{})
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "resume",
				RunE: resumeCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("resume command error = %v", err)
			}
		},
	)

	t.Run(
		"resume on stopped task fails", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusConflict)
						_ = json.NewEncoder(w).Encode(
							map[string]string{"detail": "task task_01TEST is stopped, cannot transition to running"},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "resume",
				RunE: resumeCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err == nil {
				t.Error("resume command expected error on stopped task")
			}
		},
	)
}

func TestStopCommand(t *testing.T) {
	t.Run(
		"stop succeeds", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						if r.URL.Path != "/api/v1/stop-task" {
							t.Errorf("unexpected path: %s", r.URL.Path)
						}

						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(map[string]string{})
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "stop",
				RunE: stopCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("stop command error = %v", err)
			}
		},
	)
}

func TestStatusCommand(t *testing.T) {
	t.Run(
		"status prints lifecycle state", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						if r.URL.Path != "/api/v1/task/task_01TEST/status" {
							t.Errorf("unexpected path: %s", r.URL.Path)
						}

						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode("paused")
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "status",
				RunE: statusCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("status command error = %v", err)
			}
		},
	)

	t.Run(
		"status fails for unknown task", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusNotFound)
						_ = json.NewEncoder(w).Encode(map[string]string{"detail": "task not found"})
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "status",
				RunE: statusCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"nonexistent"})

			if err := cmd.Execute(); err == nil {
				t.Error("status command expected error for unknown task")
			}
		},
	)
}

func TestPsCommand(t *testing.T) {
	t.Run(
		"ps lists tasks", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							[]types.Task{
								{
									TaskID:       "task_1",
									Instructions: "open example.com and read the heading",
									Status:       types.TaskRunning,
									WorkerID:     "wrk_1",
									CreatedAt:    time.Now().Add(-5 * time.Minute),
								},
								{
									TaskID:       "task_2",
									Instructions: "check the weather in lisbon",
									Status:       types.TaskPending,
									CreatedAt:    time.Now().Add(-2 * time.Minute),
								},
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "ps",
				RunE: psCmd.RunE,
			}
			cmd.Flags().StringVarP(&psTaskID, "task", "t", "", "task id")
			cmd.Flags().StringVarP(&psStatus, "status", "s", "", "status filter")
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{})

			if err := cmd.Execute(); err != nil {
				t.Errorf("ps command error = %v", err)
			}
		},
	)

	t.Run(
		"ps with specific task shows details", func(t *testing.T) {
			startedAt := time.Now().Add(-10 * time.Minute)
			pausedAt := time.Now().Add(-3 * time.Minute)

			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							types.Task{
								TaskID:       "task_01TEST",
								Instructions: "open example.com",
								Status:       types.TaskPaused,
								WorkerID:     "wrk_1",
								SessionID:    "sess_1",
								CreatedAt:    time.Now().Add(-20 * time.Minute),
								StartedAt:    &startedAt,
								PausedAt:     &pausedAt,
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() {
				serverURL = originalURL
				psTaskID = ""
			}()

			cmd := &cobra.Command{
				Use:  "ps",
				RunE: psCmd.RunE,
			}
			cmd.Flags().StringVarP(&psTaskID, "task", "t", "", "task id")
			cmd.Flags().StringVarP(&psStatus, "status", "s", "", "status filter")
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"--task", "task_01TEST"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("ps command error = %v", err)
			}
		},
	)

	t.Run(
		"ps with status filter", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						if r.URL.Query().Get("status") != "paused" {
							t.Errorf("unexpected status filter: %s", r.URL.Query().Get("status"))
						}

						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							[]types.Task{
								{
									TaskID:       "task_1",
									Instructions: "open example.com",
									Status:       types.TaskPaused,
									WorkerID:     "wrk_1",
									CreatedAt:    time.Now().Add(-5 * time.Minute),
								},
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() {
				serverURL = originalURL
				psStatus = ""
			}()

			cmd := &cobra.Command{
				Use:  "ps",
				RunE: psCmd.RunE,
			}
			cmd.Flags().StringVarP(&psTaskID, "task", "t", "", "task id")
			cmd.Flags().StringVarP(&psStatus, "status", "s", "", "status filter")
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"--status", "paused"})

			if err := cmd.Execute(); err != nil {
				t.Errorf("ps command error = %v", err)
			}
		},
	)
}

func TestWorkersCommand(t *testing.T) {
	t.Run(
		"workers lists agents", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							[]types.Worker{
								{
									WorkerID:       "wrk_1",
									Hostname:       "localhost",
									Port:           8081,
									Status:         types.WorkerOnline,
									ActiveSessions: 2,
									Capacity:       4,
									LastHeartbeat:  time.Now().Add(-30 * time.Second),
								},
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "workers",
				RunE: workersCmd.RunE,
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{})

			if err := cmd.Execute(); err != nil {
				t.Errorf("workers command error = %v", err)
			}
		},
	)
}

func TestLogsCommand(t *testing.T) {
	t.Run(
		"logs fails for pending task", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							types.Task{
								TaskID:       "task_01TEST",
								Instructions: "open example.com",
								Status:       types.TaskPending,
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "logs",
				RunE: logsCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.Flags().IntVar(&logsTail, "tail", 100, "tail")
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err == nil {
				t.Error("logs command expected error for pending task")
			}
		},
	)

	t.Run(
		"logs fails for task without a session", func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
						_ = json.NewEncoder(w).Encode(
							types.Task{
								TaskID:       "task_01TEST",
								Instructions: "open example.com",
								Status:       types.TaskFailed,
							},
						)
					},
				),
			)
			defer server.Close()

			originalURL := serverURL
			serverURL = server.URL
			defer func() { serverURL = originalURL }()

			cmd := &cobra.Command{
				Use:  "logs",
				RunE: logsCmd.RunE,
				Args: cobra.ExactArgs(1),
			}
			cmd.Flags().IntVar(&logsTail, "tail", 100, "tail")
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cmd.SetArgs([]string{"task_01TEST"})

			if err := cmd.Execute(); err == nil {
				t.Error("logs command expected error for task without session")
			}
		},
	)
}
