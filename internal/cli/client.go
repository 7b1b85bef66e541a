package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"skiff/internal/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) RunTask(instructions string) (*types.Task, error) {
	payload := map[string]string{
		"task": instructions,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.httpClient.Post(
		c.baseURL+"/api/v1/run-task",
		"application/json",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("post request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var task types.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &task, nil
}

func (c *Client) ListTasks(status string) ([]types.Task, error) {
	endpoint := c.baseURL + "/api/v1/tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}

	resp, err := c.httpClient.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var tasks []types.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return tasks, nil
}

func (c *Client) GetTask(taskID string) (*types.Task, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/task/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var task types.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &task, nil
}

func (c *Client) GetTaskStatus(taskID string) (string, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/task/" + taskID + "/status")
	if err != nil {
		return "", fmt.Errorf("get request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var status string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return status, nil
}

// PauseTask freezes a running task in place.
func (c *Client) PauseTask(taskID string) error {
	return c.signalTask("pause-task", taskID)
}

// ResumeTask continues a paused task from where it was frozen.
func (c *Client) ResumeTask(taskID string) error {
	return c.signalTask("resume-task", taskID)
}

// StopTask terminally stops a task.
func (c *Client) StopTask(taskID string) error {
	return c.signalTask("stop-task", taskID)
}

func (c *Client) signalTask(endpoint, taskID string) error {
	reqURL := c.baseURL + "/api/v1/" + endpoint + "?task_id=" + url.QueryEscape(taskID)

	req, err := http.NewRequest(http.MethodPut, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) ListWorkers() ([]types.Worker, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/workers")
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var workers []types.Worker
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return workers, nil
}

func (c *Client) GetTaskLogs(task *types.Task, tail int) (string, error) {
	// Logs live on the worker that owns the session
	workers, err := c.ListWorkers()
	if err != nil {
		return "", fmt.Errorf("list workers: %w", err)
	}

	var workerURL string
	for _, worker := range workers {
		if worker.WorkerID == task.WorkerID {
			workerURL = fmt.Sprintf("http://%s:%d", worker.Hostname, worker.Port)
			break
		}
	}

	if workerURL == "" {
		return "", fmt.Errorf("worker not found: %s", task.WorkerID)
	}

	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/logs?tail=%d", workerURL, task.SessionID, tail)
	resp, err := c.httpClient.Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("get request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	logs, ok := result["logs"].(string)
	if !ok {
		return "", fmt.Errorf("invalid logs format in response")
	}

	return logs, nil
}
