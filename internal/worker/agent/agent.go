// Package agent runs browser sessions on a worker and keeps the
// controller informed about them.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"skiff/internal/types"
	"skiff/internal/worker/browser"
	"skiff/internal/worker/health"
)

// ErrSessionNotFound is returned for signals aimed at a session this
// worker is not running.
var ErrSessionNotFound = errors.New("session not found")

const (
	// registerWindow bounds how long a booting worker keeps retrying
	// registration while the controller comes up.
	registerWindow = 2 * time.Minute
	reportTimeout  = 30 * time.Second

	// outputTailLines is how much browser log a finished session hands
	// back as task output.
	outputTailLines = 50
)

// Session is the externally visible state of one browser session.
type Session struct {
	SessionID   string    `json:"sessionId"`
	TaskID      string    `json:"taskId"`
	ContainerID string    `json:"containerId,omitempty"`
	Paused      bool      `json:"paused"`
	Health      string    `json:"health"`
	StartedAt   time.Time `json:"startedAt"`
}

// session is the tracked state behind a Session snapshot.
type session struct {
	SessionID    string
	TaskID       string
	Instructions string
	ContainerID  string
	Paused       bool
	StartedAt    time.Time
	checker      *health.Checker
	cancel       context.CancelFunc
}

// Agent manages browser sessions and communication with the controller.
type Agent struct {
	controllerURL string
	hostname      string
	port          int
	capacity      int
	image         string
	browser       *browser.Client

	mu       sync.RWMutex
	workerID string
	sessions map[string]*session

	heartbeatTicker *time.Ticker
	stopChan        chan struct{}
}

// NewAgent creates a new worker agent. An empty image falls back to the
// default headless browser image.
func NewAgent(controllerURL, hostname string, port, capacity int, image string) (*Agent, error) {
	browserClient, err := browser.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser client: %w", err)
	}

	if image == "" {
		image = browser.DefaultImage
	}
	if capacity <= 0 {
		capacity = types.DefaultWorkerCapacity
	}

	return &Agent{
		controllerURL: controllerURL,
		hostname:      hostname,
		port:          port,
		capacity:      capacity,
		image:         image,
		browser:       browserClient,
		sessions:      make(map[string]*session),
		stopChan:      make(chan struct{}),
	}, nil
}

// Ping verifies the docker daemon behind the browser sessions is reachable.
func (a *Agent) Ping(ctx context.Context) error {
	return a.browser.Ping(ctx)
}

// Register announces this worker to the controller and stores the
// assigned worker ID. The controller may still be coming up, so
// registration retries with backoff.
func (a *Agent) Register(ctx context.Context) error {
	backoff := retry.WithMaxDuration(registerWindow, retry.NewExponential(time.Second))
	err := retry.Do(
		ctx, backoff, func(ctx context.Context) error {
			if err := a.register(ctx); err != nil {
				log.Printf("registration failed, will retry: %v", err)
				return retry.RetryableError(err)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register with controller: %w", err)
	}
	return nil
}

// register performs a single registration attempt.
func (a *Agent) register(ctx context.Context) error {
	payload := map[string]interface{}{
		"hostname": a.hostname,
		"port":     a.port,
		"capacity": a.capacity,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/workers/register", a.controllerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("registration returned status %d", resp.StatusCode)
	}

	var worker types.Worker
	if err := json.NewDecoder(resp.Body).Decode(&worker); err != nil {
		return fmt.Errorf("failed to decode registration response: %w", err)
	}

	a.mu.Lock()
	a.workerID = worker.WorkerID
	a.mu.Unlock()

	log.Printf("registered with controller as %s", worker.WorkerID)
	return nil
}

// WorkerID returns the controller-assigned ID, empty before registration.
func (a *Agent) WorkerID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.workerID
}

// Start begins the agent's background operations (heartbeat).
func (a *Agent) Start(heartbeatInterval time.Duration) {
	a.heartbeatTicker = time.NewTicker(heartbeatInterval)
	go a.heartbeatLoop()
}

// Stop halts the agent without waiting for sessions.
func (a *Agent) Stop() {
	if a.heartbeatTicker != nil {
		a.heartbeatTicker.Stop()
	}
	close(a.stopChan)
	if a.browser != nil {
		_ = a.browser.Close()
	}
}

// Shutdown performs a graceful shutdown waiting for live sessions to finish.
func (a *Agent) Shutdown(ctx context.Context) error {
	log.Printf("shutdown initiated, waiting for %d live sessions...", a.SessionCount())

	// Stop heartbeat immediately
	if a.heartbeatTicker != nil {
		a.heartbeatTicker.Stop()
	}

	// Wait for sessions to finish or timeout
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			count := a.SessionCount()
			if count == 0 {
				close(done)
				return
			}

			select {
			case <-ticker.C:
				log.Printf("waiting for %d sessions to finish...", count)
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-done:
		log.Println("all sessions finished")
	case <-ctx.Done():
		log.Printf("shutdown timeout reached, %d sessions still live", a.SessionCount())

		// Force cleanup remaining containers
		a.cleanupSessions(context.Background())
	}

	// Final heartbeat so the controller sees the updated session count
	if err := a.sendHeartbeat(context.Background()); err != nil {
		log.Printf("failed to send final heartbeat: %v", err)
	}

	close(a.stopChan)
	if a.browser != nil {
		_ = a.browser.Close()
	}

	return nil
}

// cleanupSessions forcefully stops and removes any containers still live.
func (a *Agent) cleanupSessions(ctx context.Context) {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*session)
	a.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		if s.ContainerID != "" {
			log.Printf("force stopping container %s for session %s", s.ContainerID, s.SessionID)
		}
		a.teardown(ctx, s)
	}
}

// heartbeatLoop sends periodic heartbeats to the controller.
func (a *Agent) heartbeatLoop() {
	for {
		select {
		case <-a.heartbeatTicker.C:
			if err := a.sendHeartbeatWithRetry(); err != nil {
				log.Printf("heartbeat failed after retries: %v", err)
			}
		case <-a.stopChan:
			return
		}
	}
}

// sendHeartbeatWithRetry sends a heartbeat with exponential backoff on failures.
func (a *Agent) sendHeartbeatWithRetry() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewExponential(time.Second))
	err := retry.Do(
		ctx, backoff, func(ctx context.Context) error {
			if err := a.sendHeartbeat(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

// sendHeartbeat reports liveness and the current session count.
func (a *Agent) sendHeartbeat(ctx context.Context) error {
	workerID := a.WorkerID()
	if workerID == "" {
		return errors.New("not registered with controller yet")
	}

	payload := map[string]interface{}{
		"activeSessions": a.SessionCount(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/workers/%s/heartbeat", a.controllerURL, workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}

	return nil
}

// StartSession allocates a session and launches its browser in the
// background. The caller gets the session ID as soon as it is tracked,
// the container comes up asynchronously.
func (a *Agent) StartSession(taskID, instructions string) (string, error) {
	a.mu.Lock()
	if len(a.sessions) >= a.capacity {
		a.mu.Unlock()
		return "", fmt.Errorf("worker at capacity (%d sessions)", a.capacity)
	}

	sessionID := newSessionID()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		SessionID:    sessionID,
		TaskID:       taskID,
		Instructions: instructions,
		StartedAt:    time.Now().UTC(),
		cancel:       cancel,
	}
	a.sessions[sessionID] = s
	a.mu.Unlock()

	go a.runSession(ctx, s)

	log.Printf("session %s started for task %s", sessionID, taskID)
	return sessionID, nil
}

// runSession drives one browser container from image pull to teardown.
func (a *Agent) runSession(ctx context.Context, s *session) {
	log.Printf("pulling image %s for session %s", a.image, s.SessionID)
	if err := a.browser.PullImage(ctx, a.image); err != nil {
		a.failSession(s, fmt.Sprintf("failed to pull image: %v", err))
		return
	}

	env := []string{
		fmt.Sprintf("TASK_ID=%s", s.TaskID),
		fmt.Sprintf("TASK_INSTRUCTIONS=%s", s.Instructions),
	}

	log.Printf("creating browser container for session %s", s.SessionID)
	containerID, err := a.browser.CreateContainer(ctx, a.image, env)
	if err != nil {
		a.failSession(s, fmt.Sprintf("failed to create container: %v", err))
		return
	}

	a.mu.Lock()
	s.ContainerID = containerID
	a.mu.Unlock()

	log.Printf("starting container %s for session %s", containerID, s.SessionID)
	if err := a.browser.StartContainer(ctx, containerID); err != nil {
		a.failSession(s, fmt.Sprintf("failed to start container: %v", err))
		return
	}

	checker := health.NewChecker(s.SessionID, containerID, a.browser, a.onSessionUnhealthy)
	a.mu.Lock()
	s.checker = checker
	a.mu.Unlock()
	go checker.Start(ctx)

	// Blocks until the browser exits. A frozen container stays running,
	// so a paused session keeps waiting here.
	exitCode, waitErr := a.browser.WaitContainer(ctx, containerID)

	checker.Stop()

	a.mu.Lock()
	_, tracked := a.sessions[s.SessionID]
	delete(a.sessions, s.SessionID)
	a.mu.Unlock()
	if !tracked {
		// The session was stopped or declared unhealthy, its teardown
		// already reported whatever needed reporting
		return
	}

	reportCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	switch {
	case waitErr != nil:
		log.Printf("session %s wait failed: %v", s.SessionID, waitErr)
		if err := a.reportTaskStatus(reportCtx, s.TaskID, types.TaskFailed, "", waitErr.Error()); err != nil {
			log.Printf("failed to report session %s: %v", s.SessionID, err)
		}
	case exitCode == 0:
		output, logErr := a.browser.GetContainerLogs(reportCtx, containerID, outputTailLines)
		if logErr != nil {
			log.Printf("failed to collect output for session %s: %v", s.SessionID, logErr)
		}
		log.Printf("session %s completed successfully", s.SessionID)
		if err := a.reportTaskStatus(reportCtx, s.TaskID, types.TaskFinished, output, ""); err != nil {
			log.Printf("failed to report session %s: %v", s.SessionID, err)
		}
	default:
		output, _ := a.browser.GetContainerLogs(reportCtx, containerID, outputTailLines)
		errMsg := fmt.Sprintf("browser container exited with code %d", exitCode)
		log.Printf("session %s failed: %s", s.SessionID, errMsg)
		if err := a.reportTaskStatus(reportCtx, s.TaskID, types.TaskFailed, output, errMsg); err != nil {
			log.Printf("failed to report session %s: %v", s.SessionID, err)
		}
	}

	if err := a.browser.RemoveContainer(reportCtx, containerID); err != nil {
		log.Printf("failed to remove container %s: %v", containerID, err)
	}
}

// failSession reports a session that never got a working browser.
func (a *Agent) failSession(s *session, errMsg string) {
	a.mu.Lock()
	_, tracked := a.sessions[s.SessionID]
	delete(a.sessions, s.SessionID)
	a.mu.Unlock()
	if !tracked {
		return
	}

	log.Printf("session %s failed: %s", s.SessionID, errMsg)

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := a.reportTaskStatus(ctx, s.TaskID, types.TaskFailed, "", errMsg); err != nil {
		log.Printf("failed to report session %s: %v", s.SessionID, err)
	}
	a.teardown(ctx, s)
}

// onSessionUnhealthy tears down a session whose browser stopped
// answering its debug endpoint.
func (a *Agent) onSessionUnhealthy(sessionID string) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	log.Printf("session %s became unhealthy, tearing it down", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := a.reportTaskStatus(ctx, s.TaskID, types.TaskFailed, "", "browser became unresponsive"); err != nil {
		log.Printf("failed to report session %s: %v", sessionID, err)
	}
	a.teardown(ctx, s)
	s.cancel()
}

// PauseSession freezes a session's container. It only returns nil once
// the freeze has actually taken hold.
func (a *Agent) PauseSession(ctx context.Context, sessionID string) error {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	var containerID string
	var paused bool
	var checker *health.Checker
	if ok {
		containerID = s.ContainerID
		paused = s.Paused
		checker = s.checker
	}
	a.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	if containerID == "" {
		// Retryable from the controller's side, the browser is still
		// coming up
		return fmt.Errorf("session %s is still starting", sessionID)
	}
	if paused {
		// A retried signal, the freeze already happened
		return nil
	}

	if err := a.browser.PauseContainer(ctx, containerID); err != nil {
		return fmt.Errorf("failed to freeze session %s: %w", sessionID, err)
	}

	a.mu.Lock()
	s.Paused = true
	a.mu.Unlock()
	if checker != nil {
		checker.SetPaused(true)
	}

	log.Printf("session %s frozen", sessionID)
	return nil
}

// ResumeSession thaws a frozen session's container.
func (a *Agent) ResumeSession(ctx context.Context, sessionID string) error {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	var containerID string
	var paused bool
	var checker *health.Checker
	if ok {
		containerID = s.ContainerID
		paused = s.Paused
		checker = s.checker
	}
	a.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	if !paused {
		// A retried signal, the thaw already happened
		return nil
	}

	if err := a.browser.UnpauseContainer(ctx, containerID); err != nil {
		return fmt.Errorf("failed to thaw session %s: %w", sessionID, err)
	}

	a.mu.Lock()
	s.Paused = false
	a.mu.Unlock()
	if checker != nil {
		checker.SetPaused(false)
	}

	log.Printf("session %s thawed", sessionID)
	return nil
}

// StopSession tears down a session and its container. No final status
// report goes out, the controller initiated this stop and has already
// recorded the task as stopped.
func (a *Agent) StopSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.cancel()
	a.teardown(ctx, s)

	log.Printf("session %s stopped", sessionID)
	return nil
}

// teardown stops the checker and removes the session's container.
func (a *Agent) teardown(ctx context.Context, s *session) {
	a.mu.RLock()
	checker := s.checker
	containerID := s.ContainerID
	a.mu.RUnlock()

	if checker != nil {
		checker.Stop()
	}
	if containerID == "" {
		return
	}

	if err := a.browser.StopContainer(ctx, containerID); err != nil {
		log.Printf("error stopping container %s: %v", containerID, err)
	}
	if err := a.browser.RemoveContainer(ctx, containerID); err != nil {
		log.Printf("error removing container %s: %v", containerID, err)
	}
}

// reportTaskStatus pushes a task status change to the controller,
// retrying transient failures.
func (a *Agent) reportTaskStatus(
	ctx context.Context,
	taskID string,
	status types.TaskStatus,
	output, errorMsg string,
) error {
	backoff := retry.WithMaxDuration(reportTimeout, retry.NewExponential(time.Second))
	err := retry.Do(
		ctx, backoff, func(ctx context.Context) error {
			return a.sendTaskStatus(ctx, taskID, status, output, errorMsg)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to report task %s as %s: %w", taskID, status, err)
	}
	return nil
}

// sendTaskStatus performs a single status report.
func (a *Agent) sendTaskStatus(
	ctx context.Context,
	taskID string,
	status types.TaskStatus,
	output, errorMsg string,
) error {
	payload := map[string]interface{}{
		"status": status,
	}
	if output != "" {
		payload["output"] = output
	}
	if errorMsg != "" {
		payload["error"] = errorMsg
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/internal/tasks/%s/status", a.controllerURL, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create status update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("failed to send status update: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return retry.RetryableError(fmt.Errorf("status update returned status %d", resp.StatusCode))
	default:
		// A conflict means the task already reached a terminal state on
		// the controller, retrying will not change its mind
		return fmt.Errorf("status update returned status %d", resp.StatusCode)
	}
}

// GetSession returns a snapshot of one session.
func (a *Agent) GetSession(sessionID string) (Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return a.snapshot(s), true
}

// ListSessions returns snapshots of every live session.
func (a *Agent) ListSessions() []Session {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sessions := make([]Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, a.snapshot(s))
	}
	return sessions
}

// SessionCount returns the number of live sessions, frozen ones included.
func (a *Agent) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// SessionLogs retrieves browser container logs for a session.
func (a *Agent) SessionLogs(ctx context.Context, sessionID string, tail int) (string, error) {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	var containerID string
	if ok {
		containerID = s.ContainerID
	}
	a.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}
	if containerID == "" {
		return "", fmt.Errorf("session %s has no container yet", sessionID)
	}

	return a.browser.GetContainerLogs(ctx, containerID, tail)
}

// snapshot must be called with the lock held.
func (a *Agent) snapshot(s *session) Session {
	snap := Session{
		SessionID:   s.SessionID,
		TaskID:      s.TaskID,
		ContainerID: s.ContainerID,
		Paused:      s.Paused,
		Health:      string(health.StatusUnknown),
		StartedAt:   s.StartedAt,
	}
	if s.checker != nil {
		snap.Health = string(s.checker.GetStatus())
	}
	return snap
}

func newSessionID() string {
	return "sess_" + ulid.Make().String()
}
