// Package health watches browser sessions through their remote
// debugging endpoints.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"skiff/internal/worker/browser"
)

const (
	// defaultInitialDelay gives the browser time to boot before the
	// first probe.
	defaultInitialDelay = 5 * time.Second
	defaultPeriod       = 10 * time.Second
	probeTimeout        = 3 * time.Second

	failureThreshold = 3
	successThreshold = 1
)

// Status is the probed health of a session's browser.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// BrowserInspector is the container surface the checker needs.
type BrowserInspector interface {
	GetContainerIP(ctx context.Context, containerID string) (string, error)
}

// Checker probes one session's browser until stopped.
type Checker struct {
	sessionID       string
	containerID     string
	browser         BrowserInspector
	probe           *CDPProbe
	debugPort       int
	initialDelay    time.Duration
	period          time.Duration
	status          Status
	consecutiveFail int
	consecutiveOK   int
	paused          bool
	mu              sync.RWMutex
	stopChan        chan struct{}
	stopped         bool
	onUnhealthy     func(sessionID string)
}

// NewChecker creates a health checker for one browser session.
func NewChecker(
	sessionID string,
	containerID string,
	browserClient *browser.Client,
	onUnhealthy func(string),
) *Checker {
	return newCheckerWithClient(sessionID, containerID, browserClient, onUnhealthy)
}

// newCheckerWithClient creates a checker with any BrowserInspector (useful for testing)
func newCheckerWithClient(
	sessionID string,
	containerID string,
	browserClient BrowserInspector,
	onUnhealthy func(string),
) *Checker {
	return &Checker{
		sessionID:    sessionID,
		containerID:  containerID,
		browser:      browserClient,
		probe:        NewCDPProbe(),
		debugPort:    browser.DebugPort,
		initialDelay: defaultInitialDelay,
		period:       defaultPeriod,
		status:       StatusUnknown,
		stopChan:     make(chan struct{}),
		onUnhealthy:  onUnhealthy,
	}
}

// Start begins probing. It blocks until the checker is stopped or the
// context is cancelled.
func (hc *Checker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.stopped {
		hc.mu.Unlock()
		return
	}
	hc.mu.Unlock()

	if hc.initialDelay > 0 {
		select {
		case <-time.After(hc.initialDelay):
		case <-ctx.Done():
			return
		case <-hc.stopChan:
			return
		}
	}

	ticker := time.NewTicker(hc.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.performCheck(ctx)
		case <-ctx.Done():
			return
		case <-hc.stopChan:
			return
		}
	}
}

// Stop stops the health checker.
func (hc *Checker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if !hc.stopped {
		hc.stopped = true
		close(hc.stopChan)
	}
}

// GetStatus returns the current health status.
func (hc *Checker) GetStatus() Status {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// SetPaused suspends probing while the session's container is frozen.
// A frozen browser cannot answer the debug endpoint, and that is not a
// failure.
func (hc *Checker) SetPaused(paused bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.paused = paused
	if paused {
		hc.consecutiveFail = 0
	}
}

// performCheck executes one probe unless the session is frozen.
func (hc *Checker) performCheck(ctx context.Context) {
	hc.mu.RLock()
	paused := hc.paused
	hc.mu.RUnlock()

	if paused {
		return
	}

	var result Result
	containerIP, err := hc.browser.GetContainerIP(ctx, hc.containerID)
	if err != nil {
		result = Result{
			Success:   false,
			Message:   fmt.Sprintf("failed to get container IP: %v", err),
			Timestamp: time.Now(),
		}
	} else {
		result = hc.probe.Check(ctx, containerIP, hc.debugPort)
	}

	hc.updateStatus(result)
}

// updateStatus updates the health status based on a probe result.
func (hc *Checker) updateStatus(result Result) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	previousStatus := hc.status

	if result.Success {
		hc.consecutiveFail = 0
		hc.consecutiveOK++

		if hc.consecutiveOK >= successThreshold {
			hc.status = StatusHealthy
		}

		log.Printf(
			"[health] session=%s status=success consecutive=%d message=%q",
			hc.sessionID, hc.consecutiveOK, result.Message,
		)
	} else {
		hc.consecutiveOK = 0
		hc.consecutiveFail++

		log.Printf(
			"[health] session=%s status=failure consecutive=%d message=%q",
			hc.sessionID, hc.consecutiveFail, result.Message,
		)

		if hc.consecutiveFail >= failureThreshold {
			hc.status = StatusUnhealthy

			// Fire the callback once per transition, including for a
			// browser that never came up at all
			if previousStatus != StatusUnhealthy && hc.onUnhealthy != nil {
				log.Printf("[health] session=%s became unhealthy, triggering callback", hc.sessionID)
				go hc.onUnhealthy(hc.sessionID)
			}
		}
	}
}
