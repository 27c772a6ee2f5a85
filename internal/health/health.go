// Package health reports whether the backup directory and the metadata
// repository are usable.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/clock"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works with reduced function.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds each registered check.
const DefaultCheckTimeout = 5 * time.Second

// Check represents a health check result.
type Check struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc performs one health check.
type CheckFunc func(context.Context) Check

// Report is the combined result of all checks.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Checker performs health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	clock   clock.Clock
	timeout time.Duration
}

// NewChecker creates a new health checker.
func NewChecker(clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		clock:   clk,
		timeout: DefaultCheckTimeout,
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RegisterPing registers a check that is healthy when ping returns nil.
func (c *Checker) RegisterPing(name string, ping func(context.Context) error, details map[string]any) {
	c.RegisterCheck(name, func(ctx context.Context) Check {
		check := Check{Status: StatusHealthy, Timestamp: c.clock.Now(), Details: details}
		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Error = err.Error()
		}
		return check
	})
}

// RegisterBreaker registers a check that reports a circuit breaker as
// degraded while it is not closed.
func (c *Checker) RegisterBreaker(name string, state func() string) {
	c.RegisterCheck(name, func(context.Context) Check {
		s := state()
		check := Check{Status: StatusHealthy, Timestamp: c.clock.Now(), Details: map[string]any{"state": s}}
		if s != "closed" {
			check.Status = StatusDegraded
		}
		return check
	})
}

// CheckHealth runs all registered checks and combines them. Any unhealthy
// check makes the report unhealthy; otherwise any degraded check makes it
// degraded.
func (c *Checker) CheckHealth(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(names)),
		Timestamp: c.clock.Now(),
	}
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result := checks[name](checkCtx)
		cancel()

		report.Checks[name] = result
		switch {
		case result.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case result.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		// Headers are already sent, nothing useful to do on failure
		_ = json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler returns a readiness handler that fails while any check
// is unhealthy.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.CheckHealth(r.Context()).Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
