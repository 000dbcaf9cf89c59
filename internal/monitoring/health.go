package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/panes/internal/logging"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

var startTime = time.Now()

// HealthCheck is the result of one check.
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// CheckFunc probes one component. A nil error is healthy.
type CheckFunc func(ctx context.Context) error

type registeredCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Uptime    string        `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	GoVersion string        `json:"go_version"`
	PID       int           `json:"pid"`
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	logger  logging.Logger
	timeout time.Duration
	version string
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger logging.Logger, version string) *HealthMonitor {
	return &HealthMonitor{
		logger:  logger.WithComponent("health"),
		timeout: 5 * time.Second,
		version: version,
	}
}

// Register adds a check. A failing critical check makes the whole service
// unhealthy; a failing non-critical check only degrades it.
func (hm *HealthMonitor) Register(name string, critical bool, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks = append(hm.checks, registeredCheck{name: name, critical: critical, fn: fn})
}

// Check runs every registered check concurrently.
func (hm *HealthMonitor) Check(ctx context.Context) HealthResponse {
	hm.mu.RLock()
	checks := append([]registeredCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c registeredCheck) {
			defer wg.Done()
			start := time.Now()
			result := HealthCheck{Name: c.name, Status: HealthStatusHealthy, Critical: c.critical}
			if err := c.fn(ctx); err != nil {
				result.Message = err.Error()
				result.Status = HealthStatusDegraded
				if c.critical {
					result.Status = HealthStatusUnhealthy
				}
			}
			result.Duration = time.Since(start)
			results[i] = result
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		if r.Status == HealthStatusUnhealthy {
			status = HealthStatusUnhealthy
			break
		}
		if r.Status == HealthStatusDegraded {
			status = HealthStatusDegraded
		}
	}

	for _, r := range results {
		if r.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", r.Name,
				"status", string(r.Status),
				"message", r.Message)
		}
	}

	return HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   hm.version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    results,
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
	}
}

// HTTPHandler returns an HTTP handler for health checks
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}
