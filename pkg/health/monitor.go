package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/config"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
)

// ReportFunc receives the health of the monitored dependency after each check
type ReportFunc func(healthy bool, message string)

// Monitor probes a dependency on an interval and reports its health
type Monitor struct {
	name    string
	checker Checker
	config  Config
	report  ReportFunc

	mu     sync.RWMutex
	status *Status

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a monitor for the named dependency
func NewMonitor(name string, checker Checker, config Config, report ReportFunc) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retries <= 0 {
		config.Retries = 1
	}
	if report == nil {
		report = func(bool, string) {}
	}
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		report:  report,
		status:  NewStatus(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// NewCoordinatorMonitor probes the coordinator health endpoint and reports
// into the metrics health registry under ComponentCoordinator
func NewCoordinatorMonitor(cfg config.CoordinatorConfig) *Monitor {
	checker := NewCoordinatorChecker(cfg)
	return NewMonitor(metrics.ComponentCoordinator, checker, Config{
		Interval: cfg.HealthInterval,
		Timeout:  cfg.Timeout,
		Retries:  DefaultConfig().Retries,
	}, func(healthy bool, message string) {
		metrics.UpdateComponent(metrics.ComponentCoordinator, healthy, message)
	})
}

// Start runs a check immediately and then every Interval
func (m *Monitor) Start() {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckOnce()
		for {
			select {
			case <-ticker.C:
				m.CheckOnce()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops the monitor and waits for the loop to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// CheckOnce runs a single check and reports the resulting status
func (m *Monitor) CheckOnce() Result {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	result := m.checker.Check(ctx)

	m.mu.Lock()
	wasHealthy := m.status.Healthy
	if result.Healthy || !m.status.InStartPeriod(m.config) {
		m.status.Update(result, m.config)
	}
	healthy := m.status.Healthy
	m.mu.Unlock()

	if wasHealthy != healthy {
		logger := log.WithComponent("health")
		logger.Warn().
			Str("dependency", m.name).
			Bool("healthy", healthy).
			Str("message", result.Message).
			Msg("Dependency health changed")
	}

	m.report(healthy, result.Message)
	return result
}

// Healthy returns the current health of the dependency
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Healthy
}
