// Package types defines the core interfaces and data model for the vexgate API gateway
package types

import (
	"context"
	"net/http"
	"time"
)

// Registry exposes the known backend instances per logical service.
// The data path only reads it; health loops and discovery watchers mutate it.
type Registry interface {
	// ListHealthy returns the healthy instances for a service
	ListHealthy(serviceName string) []*ServiceInstance
	// PickAny returns any healthy instance, or nil when none exist
	PickAny(serviceName string) *ServiceInstance
	// IsAvailable reports whether the service has at least one healthy instance
	IsAvailable(serviceName string) bool
	// ListAll returns every registered instance for a service, healthy or not
	ListAll(serviceName string) []*ServiceInstance
	// Services returns all registered service names
	Services() []string
}

// LoadBalancer selects a backend instance from a healthy snapshot
type LoadBalancer interface {
	// Select returns the instance to use for the next call
	Select(serviceName string, instances []*ServiceInstance) (*ServiceInstance, error)
	// IncrementConnections marks the start of a proxied call to an instance
	IncrementConnections(instanceID string)
	// DecrementConnections marks the end of a proxied call; never goes below zero
	DecrementConnections(instanceID string)
	// SetWeight updates an instance weight; negative values clamp to zero
	SetWeight(instanceID string, weight int)
	// SetStrategy switches the selection strategy at runtime
	SetStrategy(name string) error
	// Strategy returns the active strategy name
	Strategy() string
	// Metrics returns a snapshot of per-instance metrics
	Metrics() map[string]InstanceMetrics
}

// CircuitBreaker isolates failing services per logical service name
type CircuitBreaker interface {
	// Execute runs fn under the service's circuit; the underlying error is never masked
	Execute(serviceName string, fn func() error) error
	// State returns the current state for a service
	State(serviceName string) CircuitState
	// Stats returns a stats snapshot; ok is false if the service has no circuit yet
	Stats(serviceName string) (CircuitStats, bool)
	// AllStats returns stats for every tracked service
	AllStats() map[string]CircuitStats
	// Reset manually closes the circuit and zeroes its counters
	Reset(serviceName string)
	// ResetAll resets every tracked circuit
	ResetAll()
}

// RateLimiter bounds request rates per identity and path
type RateLimiter interface {
	// Check records one request and reports whether it is within the limit.
	// Store failures fail open: the result allows the request.
	Check(ctx context.Context, identity, path string, policy *RateLimitPolicy) RateLimitResult
}

// TokenValidator validates bearer credentials, caching validated claims
type TokenValidator interface {
	// Validate returns the claims for a token, consulting the cache first
	Validate(ctx context.Context, rawToken string) (*ValidatedToken, error)
	// Invalidate removes a token's cache entry
	Invalidate(ctx context.Context, rawToken string) error
}

// KeyValueStore is the shared-store contract used by the rate limiter and token cache
type KeyValueStore interface {
	// Get returns the value for a key, or ErrKeyNotFound
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value with a TTL; ttl <= 0 means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments a counter and returns the new value
	Incr(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining lifetime of a key; negative when none is set
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire sets the TTL on an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Ping verifies the store is reachable
	Ping(ctx context.Context) error
	// Close releases the store's resources
	Close() error
}

// Middleware wraps HTTP handlers
type Middleware func(http.Handler) http.Handler

// MiddlewareChain manages middleware execution order
type MiddlewareChain interface {
	// Use adds middleware to the chain
	Use(middleware ...Middleware)
	// Then creates the final handler
	Then(handler http.Handler) http.Handler
}

// MetricsCollector gathers gateway metrics
type MetricsCollector interface {
	// RecordRequest records request metrics
	RecordRequest(method, path string, statusCode int, duration time.Duration)
	// RecordRateLimitRejection counts a 429 for a path
	RecordRateLimitRejection(path string)
	// RecordCircuitState updates the state gauge for a service
	RecordCircuitState(service string, state CircuitState)
	// RecordCircuitTransition counts a state transition
	RecordCircuitTransition(service string, from, to CircuitState)
	// RecordSelection counts a load-balancer pick
	RecordSelection(service, strategy string)
	// RecordTunnelOpened and RecordTunnelClosed track live streaming sessions
	RecordTunnelOpened(service string)
	RecordTunnelClosed(service string)
	// RecordTunnelFrame counts a relayed frame in the given direction
	RecordTunnelFrame(direction string)
	// Handler returns the metrics endpoint handler
	Handler() http.Handler
}

// Logger provides structured logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}
