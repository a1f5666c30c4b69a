// Package health aggregates component health checks
package health

import (
	"fmt"
	"grid_trader/internal/core"
	"sync"
	"time"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]func() error)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
			if hm.logger != nil {
				hm.logger.Debug("Component unhealthy", "name", component, "error", err)
			}
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if every registered component is healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// Heartbeat returns a check that fails when last() is older than maxAge.
// A zero time counts as stale only after the grace period from creation.
func Heartbeat(last func() time.Time, maxAge time.Duration, now func() time.Time) func() error {
	started := now()
	return func() error {
		t := last()
		current := now()
		if t.IsZero() {
			if current.Sub(started) > maxAge {
				return fmt.Errorf("no heartbeat since start %s ago", current.Sub(started).Truncate(time.Second))
			}
			return nil
		}
		if age := current.Sub(t); age > maxAge {
			return fmt.Errorf("last heartbeat %s ago (max %s)", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}
