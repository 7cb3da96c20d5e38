package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/config"
)

// CoordinatorChecker probes the training coordinator's health endpoint
type CoordinatorChecker struct {
	url          string
	expectStatus int
	client       *http.Client
}

// NewCoordinatorChecker builds a checker for <url><healthPath>. The request
// timeout is the coordinator timeout and the expected status defaults to 200.
func NewCoordinatorChecker(cfg config.CoordinatorConfig) *CoordinatorChecker {
	expect := cfg.HealthStatus
	if expect == 0 {
		expect = http.StatusOK
	}
	return &CoordinatorChecker{
		url:          strings.TrimRight(cfg.URL, "/") + cfg.HealthPath,
		expectStatus: expect,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// URL returns the probed endpoint
func (c *CoordinatorChecker) URL() string {
	return c.url
}

// Check issues one GET and compares the status with the expected one
func (c *CoordinatorChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		result.Message = fmt.Sprintf("invalid coordinator health url: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	resp, err := c.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Message = fmt.Sprintf("coordinator unreachable: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode != c.expectStatus {
		result.Message = fmt.Sprintf("coordinator returned %s, want %d", result.Message, c.expectStatus)
		return result
	}
	result.Healthy = true
	return result
}
