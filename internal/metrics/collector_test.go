package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c := NewCollector(time.Hour)
	t.Cleanup(c.Stop)
	return c
}

func TestStatsAggregatesRequests(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRequest("GET", "/api/users", 200, 10*time.Millisecond)
	c.RecordRequest("GET", "/api/users", 200, 20*time.Millisecond)
	c.RecordRequest("POST", "/api/orders", 500, 30*time.Millisecond)
	c.RecordRequest("GET", "/api/users", 404, 40*time.Millisecond)

	stats := c.GetStats()
	assert.Equal(t, uint64(4), stats.TotalRequests)
	assert.Equal(t, uint64(2), stats.TotalErrors)
	assert.InDelta(t, 50.0, stats.ErrorRate, 0.001)
	assert.InDelta(t, 25.0, stats.AvgLatencyMs, 0.001)
	assert.Greater(t, stats.RequestsPerSec, 0.0)
	assert.Greater(t, stats.Uptime, time.Duration(0))
}

func TestStatsEmptyCollector(t *testing.T) {
	c := newTestCollector(t)

	stats := c.GetStats()
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.ErrorRate)
	assert.Zero(t, stats.AvgLatencyMs)
	assert.Zero(t, stats.P99LatencyMs)
}

func TestPercentilesFromRecordedLatencies(t *testing.T) {
	c := newTestCollector(t)

	for i := 1; i <= 100; i++ {
		c.RecordRequest("GET", "/api/users", 200, time.Duration(i)*time.Millisecond)
	}

	stats := c.GetStats()
	assert.InDelta(t, 51.0, stats.P50LatencyMs, 1.0)
	assert.InDelta(t, 96.0, stats.P95LatencyMs, 1.0)
	assert.InDelta(t, 100.0, stats.P99LatencyMs, 1.0)
}

func TestLatencyWindowBounded(t *testing.T) {
	c := newTestCollector(t)

	for i := 0; i < 10050; i++ {
		c.RecordRequest("GET", "/api/users", 200, time.Millisecond)
	}

	c.latenciesMu.RLock()
	n := len(c.latencies)
	c.latenciesMu.RUnlock()
	assert.LessOrEqual(t, n, 10000)
}

func TestHandlerServesExposition(t *testing.T) {
	c := newTestCollector(t)
	c.RecordRequest("GET", "/api/users", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestCircuitStateValues(t *testing.T) {
	assert.Equal(t, 0.0, stateValue(types.CircuitClosed))
	assert.Equal(t, 1.0, stateValue(types.CircuitHalfOpen))
	assert.Equal(t, 2.0, stateValue(types.CircuitOpen))
}
