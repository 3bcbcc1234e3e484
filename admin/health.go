package admin

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Status grades a health check result.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency of the relay.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// CheckerFunc is a function adapter for Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckerFunc wraps fn as a named Checker; a nil error means healthy.
func NewCheckerFunc(name string, fn func(ctx context.Context) error) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string { return c.name }

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Timestamp: start.UTC(),
	}
	if err := c.fn(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}

// HealthRegistry runs registered checks and reports overall liveness.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]Checker)}
}

// Register adds a checker, replacing any with the same name.
func (r *HealthRegistry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// OverallHealth aggregates every check result.
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Check runs every registered checker. One unhealthy dependency makes the
// whole report unhealthy.
func (r *HealthRegistry) Check(ctx context.Context) OverallHealth {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	overall := OverallHealth{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checkers)),
		Timestamp: time.Now().UTC(),
	}

	for _, checker := range checkers {
		result := checker.Check(ctx)
		overall.Checks[result.Name] = result
		if result.Status != StatusHealthy {
			overall.Status = StatusUnhealthy
		}
	}

	return overall
}

// Handler serves the health report. Unlike the metrics surface this needs no
// admin principal; load balancers probe it.
func (r *HealthRegistry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		overall := r.Check(req.Context())
		status := http.StatusOK
		if overall.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, overall)
	}
}
