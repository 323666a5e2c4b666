package types

import (
	"errors"
	"fmt"
)

// Gateway errors
var (
	// ErrUnauthenticated indicates a missing, malformed, expired or rejected credential
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUpstreamUnavailable indicates the identity provider or a backend cannot be reached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates the request exceeded its rate-limit policy
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen indicates the service's circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRouteNotFound indicates no route pattern matched the request path
	ErrRouteNotFound = errors.New("route not found")

	// ErrNoHealthyBackends indicates all instances of a service are unhealthy
	ErrNoHealthyBackends = errors.New("no healthy backends available")

	// ErrServiceNotFound indicates the requested service is not registered
	ErrServiceNotFound = errors.New("service not found")

	// ErrInstanceNotFound indicates the requested instance is not registered
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrUnknownStrategy indicates an unrecognized load-balancing strategy name
	ErrUnknownStrategy = errors.New("unknown load-balancing strategy")

	// ErrKeyNotFound indicates the key does not exist in the shared store
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable indicates the shared store cannot be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidConfiguration indicates invalid configuration
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Error codes returned in JSON error bodies
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
	CodeNoHealthyBackends   = "NO_HEALTHY_BACKENDS"
	CodeBadGateway          = "BAD_GATEWAY"
	CodeInternal            = "INTERNAL"
)

// ErrorCode maps a gateway error to its machine-readable code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrRouteNotFound):
		return CodeRouteNotFound
	case errors.Is(err, ErrNoHealthyBackends):
		return CodeNoHealthyBackends
	default:
		return CodeInternal
	}
}

// ValidationError represents a configuration validation error with details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// GatewayError wraps an error with the operation and service involved
type GatewayError struct {
	Op      string // Operation that failed
	Service string // Service involved
	Err     error  // Original error
}

func (e GatewayError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e GatewayError) Unwrap() error {
	return e.Err
}
