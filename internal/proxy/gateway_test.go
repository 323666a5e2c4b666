package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/balancer"
	"vexgate/internal/circuit"
	"vexgate/internal/middleware"
	"vexgate/internal/ratelimit"
	"vexgate/internal/registry"
	"vexgate/internal/router"
	"vexgate/internal/store"
	"vexgate/internal/types"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...any) {}
func (m *mockLogger) Info(msg string, fields ...any)  {}
func (m *mockLogger) Warn(msg string, fields ...any)  {}
func (m *mockLogger) Error(msg string, fields ...any) {}
func (m *mockLogger) With(fields ...any) types.Logger { return m }

type fakeValidator struct {
	claims *types.ValidatedToken
	err    error
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, rawToken string) (*types.ValidatedToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func (f *fakeValidator) Invalidate(ctx context.Context, rawToken string) error {
	return nil
}

type fakeUpgradeHandler struct {
	called  bool
	service string
	path    string
}

func (f *fakeUpgradeHandler) HandleUpgrade(w http.ResponseWriter, r *http.Request, targetService string) {
	f.called = true
	f.service = targetService
	f.path = r.URL.Path
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type gatewayEnv struct {
	gateway  *Gateway
	registry *registry.StaticRegistry
	breaker  *circuit.Breaker
}

func newTestGateway(t *testing.T, routes []types.RouteConfig, services []types.ServiceConfig, mutate func(*Options)) *gatewayEnv {
	t.Helper()
	logger := &mockLogger{}

	table, err := router.NewTable(routes, logger)
	require.NoError(t, err)

	reg, err := registry.NewStatic(services, logger)
	require.NoError(t, err)

	lb, err := balancer.New("round_robin", logger)
	require.NoError(t, err)

	breaker := circuit.New(types.CircuitConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		VolumeThreshold:  3,
	}, logger)

	limiter := ratelimit.New(store.NewMemory(), types.RateLimitPolicy{Limit: 100, WindowSeconds: 60}, logger)

	opts := Options{
		Table:    table,
		Registry: reg,
		Balancer: lb,
		Breaker:  breaker,
		Limiter:  limiter,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &gatewayEnv{gateway: New(opts), registry: reg, breaker: breaker}
}

func usersRoute(authRequired bool) []types.RouteConfig {
	return []types.RouteConfig{
		{
			PathPattern:   "/api/users/*",
			TargetService: "users",
			PathRewrite:   []types.RewriteRule{{Pattern: "^/api", Replacement: ""}},
			AuthRequired:  authRequired,
		},
	}
}

func usersService(endpoints ...string) []types.ServiceConfig {
	return []types.ServiceConfig{{Name: "users", Endpoints: endpoints}}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message, requestID string) {
	t.Helper()
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code, body.Error.Message, body.Error.RequestID
}

func TestProxiesToBackendWithRewriteAndForwardingHeaders(t *testing.T) {
	var seenPath, seenHost, seenProto, seenFor string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenHost = r.Header.Get("X-Forwarded-Host")
		seenProto = r.Header.Get("X-Forwarded-Proto")
		seenFor = r.Header.Get("X-Forwarded-For")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer backend.Close()

	env := newTestGateway(t, usersRoute(false), usersService(backend.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "http://gateway.local/api/users/42", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "/users/42", seenPath)
	assert.Equal(t, "gateway.local", seenHost)
	assert.Equal(t, "http", seenProto)
	assert.Equal(t, "192.0.2.1", seenFor)

	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRouteNotFound(t *testing.T) {
	env := newTestGateway(t, usersRoute(false), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeRouteNotFound, code)
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	env := newTestGateway(t, usersRoute(false), nil, nil)
	handler := middleware.RequestID()(env.gateway)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, message, requestID := decodeError(t, rec)
	assert.Equal(t, types.CodeRouteNotFound, code)
	assert.NotEmpty(t, message)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), requestID)
}

func TestNoHealthyBackends(t *testing.T) {
	env := newTestGateway(t, usersRoute(false), usersService("http://127.0.0.1:9"), nil)
	for _, inst := range env.registry.ListAll("users") {
		env.registry.SetHealth(inst.ID, false, time.Now())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeNoHealthyBackends, code)
}

func TestRateLimitRejectionCarriesHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	routes := usersRoute(false)
	routes[0].RateLimit = &types.RateLimitPolicy{Limit: 2, WindowSeconds: 60}
	env := newTestGateway(t, routes, usersService(backend.URL), nil)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
		rec := httptest.NewRecorder()
		env.gateway.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := send()
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	code, _, _ := decodeError(t, third)
	assert.Equal(t, types.CodeRateLimited, code)
}

func TestAuthRequiredWithoutToken(t *testing.T) {
	var backendHits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHits.Add(1)
	}))
	defer backend.Close()

	validator := &fakeValidator{claims: &types.ValidatedToken{UserID: "user-42"}}
	env := newTestGateway(t, usersRoute(true), usersService(backend.URL), func(o *Options) {
		o.Validator = validator
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeUnauthenticated, code)
	assert.Zero(t, backendHits.Load())
	assert.Zero(t, validator.calls)
}

func TestAuthRejectedToken(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	validator := &fakeValidator{err: fmt.Errorf("token rejected: %w", types.ErrUnauthenticated)}
	env := newTestGateway(t, usersRoute(true), usersService(backend.URL), func(o *Options) {
		o.Validator = validator
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeUnauthenticated, code)
}

func TestAuthProviderOutage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	validator := &fakeValidator{err: fmt.Errorf("identity provider: %w", types.ErrUpstreamUnavailable)}
	env := newTestGateway(t, usersRoute(true), usersService(backend.URL), func(o *Options) {
		o.Validator = validator
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeUpstreamUnavailable, code)
}

func TestAuthenticatedRequestCarriesIdentityHeaders(t *testing.T) {
	var seenUserID, seenEmail string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = r.Header.Get("X-User-ID")
		seenEmail = r.Header.Get("X-User-Email")
	}))
	defer backend.Close()

	validator := &fakeValidator{claims: &types.ValidatedToken{UserID: "user-42", Email: "dev@example.com"}}
	env := newTestGateway(t, usersRoute(true), usersService(backend.URL), func(o *Options) {
		o.Validator = validator
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	// Spoofed identity headers must never reach the backend.
	req.Header.Set("X-User-ID", "intruder")
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", seenUserID)
	assert.Equal(t, "dev@example.com", seenEmail)
	assert.Equal(t, 1, validator.calls)
}

func TestSpoofedIdentityHeadersStrippedOnAnonymousRoute(t *testing.T) {
	var seenUserID string
	headerSet := false
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = r.Header.Get("X-User-ID")
		_, headerSet = r.Header["X-User-Id"]
	}))
	defer backend.Close()

	env := newTestGateway(t, usersRoute(false), usersService(backend.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.Header.Set("X-User-ID", "intruder")
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, seenUserID)
	assert.False(t, headerSet)
}

func TestBackendErrorsOpenCircuit(t *testing.T) {
	var backendHits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	env := newTestGateway(t, usersRoute(false), usersService(backend.URL), nil)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
		rec := httptest.NewRecorder()
		env.gateway.ServeHTTP(rec, req)
		// 5xx responses are relayed verbatim while the circuit is closed.
		require.Equal(t, http.StatusBadGateway, rec.Code, "request %d", i+1)
	}
	require.EqualValues(t, 3, backendHits.Load())
	require.Equal(t, types.CircuitOpen, env.breaker.State("users"))

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeCircuitOpen, code)
	assert.EqualValues(t, 3, backendHits.Load(), "open circuit must not reach the backend")
}

func TestUnreachableBackendFailsWithUpstreamUnavailable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	env := newTestGateway(t, usersRoute(false), usersService(backend.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _, _ := decodeError(t, rec)
	assert.Equal(t, types.CodeUpstreamUnavailable, code)
}

func TestRoundRobinAcrossInstances(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	backendA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
	}))
	defer backendA.Close()
	backendB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
	}))
	defer backendB.Close()

	env := newTestGateway(t, usersRoute(false), usersService(backendA.URL, backendB.URL), nil)

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
		rec := httptest.NewRecorder()
		env.gateway.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.EqualValues(t, 2, hitsA.Load())
	assert.EqualValues(t, 2, hitsB.Load())
}

func TestWebSocketUpgradeHandedToTunnel(t *testing.T) {
	tunnel := &fakeUpgradeHandler{}
	env := newTestGateway(t, usersRoute(false), nil, func(o *Options) {
		o.Tunnel = tunnel
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	env.gateway.ServeHTTP(rec, req)

	require.True(t, tunnel.called)
	assert.Equal(t, "users", tunnel.service)
	assert.Equal(t, "/users/ws", tunnel.path)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"), "streaming sessions bypass the rate limiter")
}

func TestBearerTokenExtraction(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"case insensitive scheme", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"scheme only", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
