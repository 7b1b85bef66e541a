package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"skiff/internal/types"
)

var (
	// ErrWorkerUnresponsive is returned when a worker does not acknowledge a
	// signal within the ack window
	ErrWorkerUnresponsive = errors.New("worker unresponsive")
	// ErrSessionRejected is returned when a worker definitively refuses a
	// signal, e.g. for a session it no longer tracks
	ErrSessionRejected = errors.New("session rejected")
)

// DefaultAckTimeout bounds how long the controller waits for a worker to
// acknowledge a pause, resume or stop signal
const DefaultAckTimeout = 10 * time.Second

// Client signals browser workers over their HTTP API. Pause, resume and stop
// block until the worker acknowledges or the ack window elapses; transient
// transport failures are retried with exponential backoff inside that window.
type Client struct {
	httpClient *http.Client
	ackTimeout time.Duration
}

// NewClient creates a new signal client. A non-positive ackTimeout falls back
// to DefaultAckTimeout.
func NewClient(ackTimeout time.Duration) *Client {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		ackTimeout: ackTimeout,
	}
}

// AckTimeout returns the ack window applied to pause, resume and stop signals
func (c *Client) AckTimeout() time.Duration {
	return c.ackTimeout
}

// StartSession asks the worker to open a browser session for the task.
// The worker acknowledges before the browser container is up; execution
// progress comes back later through status reports.
func (c *Client) StartSession(ctx context.Context, worker types.Worker, task types.Task) (string, error) {
	payload := map[string]string{
		"taskId": task.TaskID,
		"task":   task.Instructions,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/sessions", worker.Hostname, worker.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return result.SessionID, nil
}

// PauseSession tells the worker to suspend the session and waits for the ack
func (c *Client) PauseSession(ctx context.Context, worker types.Worker, sessionID string) error {
	return c.signal(ctx, worker, sessionID, "pause")
}

// ResumeSession tells the worker to continue the session and waits for the ack
func (c *Client) ResumeSession(ctx context.Context, worker types.Worker, sessionID string) error {
	return c.signal(ctx, worker, sessionID, "resume")
}

// StopSession tells the worker to tear the session down and waits for the ack
func (c *Client) StopSession(ctx context.Context, worker types.Worker, sessionID string) error {
	return c.signal(ctx, worker, sessionID, "stop")
}

// signal PUTs a lifecycle action to the worker's session endpoint. Transport
// errors and 5xx responses are retried until the ack window closes, then
// reported as ErrWorkerUnresponsive. A 4xx is definitive and never retried.
func (c *Client) signal(ctx context.Context, worker types.Worker, sessionID, action string) error {
	url := fmt.Sprintf("http://%s:%d/api/v1/sessions/%s/%s", worker.Hostname, worker.Port, sessionID, action)

	ctx, cancel := context.WithTimeout(ctx, c.ackTimeout)
	defer cancel()

	backoff := retry.WithMaxDuration(c.ackTimeout, retry.NewExponential(200*time.Millisecond))

	err := retry.Do(
		ctx, backoff, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return retry.RetryableError(err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode >= http.StatusInternalServerError {
				body, _ := io.ReadAll(resp.Body)
				return retry.RetryableError(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
			}

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("%w: %s returned status %d: %s", ErrSessionRejected, action, resp.StatusCode, string(body))
			}

			return nil
		},
	)

	if err == nil {
		return nil
	}

	if errors.Is(err, ErrSessionRejected) {
		return err
	}

	// Retries exhausted or the window closed without a definitive answer
	return fmt.Errorf("%w: %s of session %s on worker %s: %v", ErrWorkerUnresponsive, action, sessionID, worker.WorkerID, err)
}
