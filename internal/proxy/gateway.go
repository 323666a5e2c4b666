// Package proxy implements the gateway data path: route matching, rate
// limiting, token validation, instance selection and the proxied backend call.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vexgate/internal/middleware"
	"vexgate/internal/router"
	"vexgate/internal/types"
)

// BufferPool adapts sync.Pool to the httputil.BufferPool interface
type BufferPool struct {
	pool *sync.Pool
}

// NewBufferPool returns a pool of copy buffers shared across proxied calls
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: &sync.Pool{
			New: func() any {
				return make([]byte, 32*1024) // 32KB buffers
			},
		},
	}
}

func (bp *BufferPool) Get() []byte {
	return bp.pool.Get().([]byte)
}

func (bp *BufferPool) Put(b []byte) {
	bp.pool.Put(b)
}

// UpgradeHandler takes over websocket upgrade requests for a matched route.
// It owns both sides of the connection once invoked.
type UpgradeHandler interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request, targetService string)
}

// Gateway is the main request handler. For a unary request it runs route
// matching, rate limiting, token validation, instance selection and the
// circuit-wrapped backend call, in that order. Upgrade requests are handed
// to the streaming tunnel right after route matching.
type Gateway struct {
	table     *router.Table
	registry  types.Registry
	balancer  types.LoadBalancer
	breaker   types.CircuitBreaker
	limiter   types.RateLimiter
	validator types.TokenValidator
	tunnel    UpgradeHandler
	metrics   types.MetricsCollector
	transport http.RoundTripper
	logger    types.Logger

	bufferPool *BufferPool
}

// Options for creating a gateway
type Options struct {
	Table     *router.Table
	Registry  types.Registry
	Balancer  types.LoadBalancer
	Breaker   types.CircuitBreaker
	Limiter   types.RateLimiter
	Validator types.TokenValidator // nil when no identity provider is configured
	Tunnel    UpgradeHandler       // nil disables streaming upgrades
	Metrics   types.MetricsCollector
	Transport http.RoundTripper
	Logger    types.Logger
}

// New creates a gateway from its collaborators
func New(opts Options) *Gateway {
	g := &Gateway{
		table:      opts.Table,
		registry:   opts.Registry,
		balancer:   opts.Balancer,
		breaker:    opts.Breaker,
		limiter:    opts.Limiter,
		validator:  opts.Validator,
		tunnel:     opts.Tunnel,
		metrics:    opts.Metrics,
		transport:  opts.Transport,
		logger:     opts.Logger,
		bufferPool: NewBufferPool(),
	}

	if g.transport == nil {
		g.transport = DefaultTransport()
	}

	return g
}

// ServeHTTP handles incoming requests
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := g.table.Match(r.URL.Path)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	// Streaming sessions skip the rate limiter; the tunnel authenticates
	// the handshake itself.
	if g.tunnel != nil && websocket.IsWebSocketUpgrade(r) {
		r.URL.Path = route.Rewrite(r.URL.Path)
		g.tunnel.HandleUpgrade(w, r, route.Config.TargetService)
		return
	}

	// The user id is not known before token validation, so admission is
	// keyed by the caller's network address.
	result := g.limiter.Check(r.Context(), middleware.ClientIP(r), route.Config.PathPattern, route.Config.RateLimit)
	setRateLimitHeaders(w.Header(), result)
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
		if g.metrics != nil {
			g.metrics.RecordRateLimitRejection(route.Config.PathPattern)
		}
		g.writeError(w, r, types.ErrRateLimited)
		return
	}

	var claims *types.ValidatedToken
	if route.Config.AuthRequired {
		claims, err = g.authenticate(r)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	instance, err := g.selectInstance(route.Config.TargetService)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.balancer.IncrementConnections(instance.ID)
	defer g.balancer.DecrementConnections(instance.ID)

	r.URL.Path = route.Rewrite(r.URL.Path)

	g.proxy(w, r, route.Config.TargetService, instance, claims)
}

// authenticate validates the request's bearer credential
func (g *Gateway) authenticate(r *http.Request) (*types.ValidatedToken, error) {
	if g.validator == nil {
		return nil, fmt.Errorf("no identity provider configured: %w", types.ErrUnauthenticated)
	}

	token := bearerToken(r)
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", types.ErrUnauthenticated)
	}

	return g.validator.Validate(r.Context(), token)
}

// selectInstance picks a healthy backend instance for the service
func (g *Gateway) selectInstance(serviceName string) (*types.ServiceInstance, error) {
	instances := g.registry.ListHealthy(serviceName)
	if len(instances) == 0 {
		return nil, fmt.Errorf("%s: %w", serviceName, types.ErrNoHealthyBackends)
	}

	instance, err := g.balancer.Select(serviceName, instances)
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.RecordSelection(serviceName, g.balancer.Strategy())
	}

	return instance, nil
}

// proxy relays the request to the selected instance under the service's
// circuit. Transport failures and relayed 5xx responses both count against
// the circuit; the client abandoning the request counts as neither.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request, serviceName string, instance *types.ServiceInstance, claims *types.ValidatedToken) {
	target, err := url.Parse(instance.URL)
	if err != nil {
		g.logger.Error("Invalid instance URL",
			"instance", instance.ID,
			"url", instance.URL,
			"error", err,
		)
		g.writeError(w, r, fmt.Errorf("instance %s: %w", instance.ID, types.ErrUpstreamUnavailable))
		return
	}

	var (
		transportErr  error
		clientGone    bool
		backendStatus int
	)

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host

			addForwardingHeaders(req)

			// Identity headers are always gateway-owned, never
			// trusted from the client.
			req.Header.Del("X-User-ID")
			req.Header.Del("X-User-Email")
			if claims != nil {
				req.Header.Set("X-User-ID", claims.UserID)
				if claims.Email != "" {
					req.Header.Set("X-User-Email", claims.Email)
				}
			}
		},
		Transport:  g.transport,
		BufferPool: g.bufferPool,
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode >= 500 {
				backendStatus = resp.StatusCode
			}
			return nil
		},
		ErrorHandler: func(ew http.ResponseWriter, req *http.Request, err error) {
			if req.Context().Err() != nil {
				clientGone = true
				return
			}
			transportErr = err
			g.writeError(ew, req, fmt.Errorf("backend call failed: %w", types.ErrUpstreamUnavailable))
		},
	}

	err = g.breaker.Execute(serviceName, func() error {
		rp.ServeHTTP(w, r)
		if transportErr != nil {
			return fmt.Errorf("%s: %w", serviceName, types.ErrUpstreamUnavailable)
		}
		if backendStatus != 0 {
			return fmt.Errorf("backend returned %d", backendStatus)
		}
		return nil
	})
	if err == nil || clientGone {
		return
	}

	if errors.Is(err, types.ErrCircuitOpen) {
		g.writeError(w, r, err)
		return
	}

	// The response is already written, either relayed from the backend or
	// produced by the proxy's error handler.
	g.logger.Warn("Backend call failed",
		"service", serviceName,
		"instance", instance.ID,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
}

// addForwardingHeaders sets the X-Forwarded-* headers on the outbound request
func addForwardingHeaders(req *http.Request) {
	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	if req.Header.Get("X-Real-IP") == "" {
		if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			req.Header.Set("X-Real-IP", clientIP)
		}
	}

	if req.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}

	req.Header.Set("X-Forwarded-Host", req.Host)
}

// bearerToken extracts the credential from the Authorization header
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func setRateLimitHeaders(h http.Header, result types.RateLimitResult) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
}

// retryAfterSeconds rounds the wait up to whole seconds, at least one
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// statusForError maps gateway errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrCircuitOpen),
		errors.Is(err, types.ErrNoHealthyBackends),
		errors.Is(err, types.ErrUpstreamUnavailable),
		errors.Is(err, types.ErrServiceNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// errorBody is the JSON shape of every gateway-produced error response
type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// writeError sends a JSON error response carrying the machine-readable
// code, a human message and the request's correlation id
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusForError(err)

	if statusCode >= 500 {
		g.logger.Error("Request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusCode,
			"error", err,
		)
	} else {
		g.logger.Debug("Request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusCode,
			"error", err,
		)
	}

	var body errorBody
	body.Error.Code = types.ErrorCode(err)
	body.Error.Message = err.Error()
	body.Error.RequestID = middleware.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		g.logger.Debug("Failed to write error body", "error", encErr)
	}
}
