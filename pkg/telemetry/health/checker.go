package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Check statuses.
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"
)

// Overall report statuses.
const (
	ReportReady    = "ready"
	ReportDegraded = "degraded"
)

// CheckFunc performs a health check for a component. It returns nil if the
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// CheckResult is the result of a single health check.
type CheckResult struct {
	// Name is the component the check belongs to.
	Name string `json:"name"`

	// Status is one of StatusOK, StatusUnhealthy or StatusDisabled.
	Status string `json:"status"`

	// Message explains an unhealthy or disabled status.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// Report is the aggregated outcome of all registered checks.
type Report struct {
	// Status is ReportReady when no check is unhealthy, ReportDegraded
	// otherwise.
	Status string `json:"status"`

	// Checks are ordered by name.
	Checks []CheckResult `json:"checks"`

	// Timestamp is when the report was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Healthy reports whether no check is unhealthy.
func (r Report) Healthy() bool { return r.Status == ReportReady }

// Checker runs health checks for the components wired by the command tool:
// the rule source, the audit database and the adaptation store.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	disabled map[string]string

	// Timeout for individual checks
	checkTimeout time.Duration
}

// ErrCheckTimeout is reported when a check does not finish within the
// checker's timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a health checker with the given per-check timeout.
// If timeout is 0, it defaults to 5 seconds.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	return &Checker{
		checks:       make(map[string]CheckFunc),
		disabled:     make(map[string]string),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck registers a check for a named component, replacing any
// existing check or disabled entry with the same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.disabled, name)
	c.checks[name] = check
}

// RegisterDisabled records a component that is turned off in configuration.
// It is reported with StatusDisabled and never makes the report degraded.
func (c *Checker) RegisterDisabled(name, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.checks, name)
	c.disabled[name] = reason
}

// Run performs every registered check concurrently and aggregates the
// results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	results := make([]CheckResult, 0, len(c.checks)+len(c.disabled))
	for name, reason := range c.disabled {
		results = append(results, CheckResult{Name: name, Status: StatusDisabled, Message: reason})
	}
	c.mu.RUnlock()

	var (
		resultMu sync.Mutex
		wg       sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()

			result := c.runCheck(ctx, check)
			result.Name = name

			resultMu.Lock()
			results = append(results, result)
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := ReportReady
	for _, result := range results {
		if result.Status == StatusUnhealthy {
			status = ReportDegraded
		}
	}

	return Report{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
	}
}

// runCheck executes a single health check with timeout. A panicking check is
// reported as unhealthy.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()

	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		errChan <- check(checkCtx)
	}()

	select {
	case err := <-errChan:
		duration := time.Since(start)
		if err != nil {
			return CheckResult{
				Status:   StatusUnhealthy,
				Message:  err.Error(),
				Duration: duration,
			}
		}
		return CheckResult{
			Status:   StatusOK,
			Duration: duration,
		}

	case <-checkCtx.Done():
		return CheckResult{
			Status:   StatusUnhealthy,
			Message:  ErrCheckTimeout.Error(),
			Duration: time.Since(start),
		}
	}
}

// ListChecks returns the sorted names of all registered checks, disabled
// ones included.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks)+len(c.disabled))
	for name := range c.checks {
		names = append(names, name)
	}
	for name := range c.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
