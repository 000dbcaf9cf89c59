package monitoring

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/panes/internal/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.Dropped("stale_generation")
	a.Dropped("stale_generation")
	a.ObserveRender(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.DroppedMessages.WithLabelValues("stale_generation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Renders))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Renders))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Dropped("x")
		m.Diagnostic("log")
		m.SessionStarted()
		m.WSMessage("in", "edit")
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Diagnostic("error")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `panes_diagnostics_total{kind="error"} 1`))
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]bool // name -> critical; failing when name starts with "bad"
		want   HealthStatus
		code   int
	}{
		{"all healthy", map[string]bool{"storage": true}, HealthStatusHealthy, http.StatusOK},
		{"non-critical failure degrades", map[string]bool{"storage": true, "bad-cache": false}, HealthStatusDegraded, http.StatusOK},
		{"critical failure", map[string]bool{"bad-storage": true, "cache": false}, HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthMonitor(logging.NewNopLogger(), "test")
			for name, critical := range tt.checks {
				failing := strings.HasPrefix(name, "bad")
				hm.Register(name, critical, func(context.Context) error {
					if failing {
						return stderrors.New("down")
					}
					return nil
				})
			}

			rec := httptest.NewRecorder()
			hm.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			assert.Equal(t, "test", resp.Version)
		})
	}
}
