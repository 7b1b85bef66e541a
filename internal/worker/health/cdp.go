package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result is the outcome of a single probe attempt.
type Result struct {
	Success   bool
	Message   string
	Timestamp time.Time
}

// CDPProbe checks a browser's remote debugging endpoint.
type CDPProbe struct {
	client *http.Client
}

// NewCDPProbe creates a new probe for the Chrome DevTools protocol.
func NewCDPProbe() *CDPProbe {
	return &CDPProbe{
		client: &http.Client{
			// Per-probe contexts carry the real timeout
			Timeout: 30 * time.Second,
		},
	}
}

// Check requests /json/version on the browser's debug port. A browser
// that answers is alive and still accepting protocol commands.
func (p *CDPProbe) Check(ctx context.Context, containerIP string, port int) Result {
	result := Result{
		Success:   false,
		Timestamp: time.Now(),
	}

	if port <= 0 {
		result.Message = "invalid port configuration"
		return result
	}

	url := fmt.Sprintf("http://%s:%d/json/version", containerIP, port)
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Message = fmt.Sprintf("failed to create request: %v", err)
		return result
	}

	resp, err := p.client.Do(req)
	if err != nil {
		result.Message = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Success = true
		result.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		result.Message = fmt.Sprintf("HTTP %d (unhealthy)", resp.StatusCode)
	}

	return result
}
