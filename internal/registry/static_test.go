package registry

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/types"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (l *mockLogger) Debug(msg string, fields ...any) {}
func (l *mockLogger) Info(msg string, fields ...any)  {}
func (l *mockLogger) Warn(msg string, fields ...any)  {}
func (l *mockLogger) Error(msg string, fields ...any) {}
func (l *mockLogger) With(fields ...any) types.Logger { return l }

func testServices() []types.ServiceConfig {
	return []types.ServiceConfig{
		{
			Name:       "search",
			Endpoints:  []string{"http://10.0.0.1:9000", "http://10.0.0.2:9001"},
			HealthPath: "/status",
		},
		{
			Name:      "embed",
			Endpoints: []string{"https://10.0.1.1"},
		},
	}
}

func TestNewStaticBuildsInstances(t *testing.T) {
	r, err := NewStatic(testServices(), &mockLogger{})
	require.NoError(t, err)

	instances := r.ListAll("search")
	require.Len(t, instances, 2)
	assert.Equal(t, "search-10.0.0.1:9000", instances[0].ID)
	assert.Equal(t, "10.0.0.1", instances[0].Host)
	assert.Equal(t, 9000, instances[0].Port)
	assert.True(t, instances[0].Healthy, "instances start healthy")
	assert.Equal(t, "/status", instances[0].Metadata["health_path"])

	embed := r.ListAll("embed")
	require.Len(t, embed, 1)
	assert.Equal(t, 443, embed[0].Port, "https default port")

	assert.Equal(t, []string{"embed", "search"}, r.Services())
}

func TestNewStaticRejectsInvalidConfig(t *testing.T) {
	_, err := NewStatic([]types.ServiceConfig{{Name: "", Endpoints: []string{"http://x"}}}, &mockLogger{})
	assert.Error(t, err)

	_, err = NewStatic([]types.ServiceConfig{{Name: "search", Endpoints: []string{"not a url at all\x7f"}}}, &mockLogger{})
	assert.Error(t, err)

	_, err = NewStatic([]types.ServiceConfig{{Name: "search", Endpoints: []string{"/just/a/path"}}}, &mockLogger{})
	assert.Error(t, err)
}

func TestSetHealthFiltersQueries(t *testing.T) {
	r, err := NewStatic(testServices(), &mockLogger{})
	require.NoError(t, err)

	require.True(t, r.IsAvailable("search"))
	require.Len(t, r.ListHealthy("search"), 2)

	at := time.Now()
	r.SetHealth("search-10.0.0.1:9000", false, at)

	healthy := r.ListHealthy("search")
	require.Len(t, healthy, 1)
	assert.Equal(t, "search-10.0.0.2:9001", healthy[0].ID)
	assert.True(t, r.IsAvailable("search"))

	r.SetHealth("search-10.0.0.2:9001", false, at)
	assert.Empty(t, r.ListHealthy("search"))
	assert.False(t, r.IsAvailable("search"))
	assert.Nil(t, r.PickAny("search"))

	// ListAll still reports both, with the check timestamp recorded
	all := r.ListAll("search")
	require.Len(t, all, 2)
	assert.Equal(t, at.Unix(), all[0].LastHealthCheck.Unix())
}

func TestQueriesReturnCopies(t *testing.T) {
	r, err := NewStatic(testServices(), &mockLogger{})
	require.NoError(t, err)

	inst := r.PickAny("search")
	require.NotNil(t, inst)
	inst.Healthy = false
	inst.Metadata["health_path"] = "/tampered"

	fresh := r.PickAny("search")
	require.NotNil(t, fresh)
	assert.True(t, fresh.Healthy, "mutating a returned instance must not affect the registry")
	assert.Equal(t, "/status", fresh.Metadata["health_path"])
}

func TestUnknownServiceQueries(t *testing.T) {
	r, err := NewStatic(testServices(), &mockLogger{})
	require.NoError(t, err)

	assert.Empty(t, r.ListHealthy("nope"))
	assert.Empty(t, r.ListAll("nope"))
	assert.Nil(t, r.PickAny("nope"))
	assert.False(t, r.IsAvailable("nope"))
}

func TestHealthCheckerFlipsInstanceDownAndUp(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer backend.Close()

	r, err := NewStatic([]types.ServiceConfig{{Name: "search", Endpoints: []string{backend.URL}}}, &mockLogger{})
	require.NoError(t, err)

	hc := NewHealthChecker(r, HealthCheckerConfig{
		Interval:      time.Hour, // driven manually below
		Timeout:       2 * time.Second,
		FailThreshold: 2,
		PassThreshold: 2,
	}, &mockLogger{})

	probeAll := func() {
		for _, inst := range r.ListAll("search") {
			hc.Check(inst)
		}
	}

	probeAll()
	assert.True(t, r.IsAvailable("search"), "one failure is below the threshold")

	probeAll()
	assert.False(t, r.IsAvailable("search"), "two consecutive failures mark the instance down")

	status.Store(http.StatusOK)

	probeAll()
	assert.False(t, r.IsAvailable("search"), "one pass is below the threshold")

	probeAll()
	assert.True(t, r.IsAvailable("search"), "two consecutive passes recover the instance")
}

func TestHealthCheckerUsesConfiguredPath(t *testing.T) {
	var sawPath atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	r, err := NewStatic([]types.ServiceConfig{{
		Name:       "search",
		Endpoints:  []string{backend.URL},
		HealthPath: "/status",
	}}, &mockLogger{})
	require.NoError(t, err)

	hc := NewHealthChecker(r, HealthCheckerConfig{Timeout: 2 * time.Second}, &mockLogger{})
	hc.Check(r.ListAll("search")[0])

	assert.Equal(t, "/status", sawPath.Load())
}
