// Package circuit implements per-service circuit breaking and health checking
package circuit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vexgate/internal/types"
)

// Default thresholds applied when the configuration leaves a field unset
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultTimeout          = 60 * time.Second
	DefaultVolumeThreshold  = 10
)

// StateChangeHook is invoked after a circuit moves between distinct states
type StateChangeHook func(serviceName string, from, to types.CircuitState)

// Breaker manages one finite-state machine per logical service name.
// Circuits are created lazily on first use and locked per service, so
// unrelated services never contend. The breaker decides whether a call may
// be attempted; it never masks the wrapped call's error.
type Breaker struct {
	mu        sync.RWMutex
	circuits  map[string]*circuit
	defaults  types.CircuitConfig
	overrides map[string]types.CircuitConfig
	clock     clock.Clock
	logger    types.Logger
	onChange  StateChangeHook
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock injects the clock used for cooldown evaluation
func WithClock(clk clock.Clock) Option {
	return func(b *Breaker) { b.clock = clk }
}

// WithOverrides sets per-service circuit configurations. Entries are
// expected to be fully populated; use the shared defaults for gaps.
func WithOverrides(overrides map[string]types.CircuitConfig) Option {
	return func(b *Breaker) { b.overrides = overrides }
}

// WithStateChangeHook registers a callback for state transitions
func WithStateChangeHook(hook StateChangeHook) Option {
	return func(b *Breaker) { b.onChange = hook }
}

// New creates a breaker manager with the given default thresholds
func New(defaults types.CircuitConfig, logger types.Logger, opts ...Option) *Breaker {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = DefaultFailureThreshold
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = DefaultSuccessThreshold
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	if defaults.VolumeThreshold <= 0 {
		defaults.VolumeThreshold = DefaultVolumeThreshold
	}

	b := &Breaker{
		circuits: make(map[string]*circuit),
		defaults: defaults,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the service's circuit. When the circuit is open and
// the cooldown has not elapsed, fn is not invoked and ErrCircuitOpen is
// returned; otherwise fn's own error is returned unchanged.
func (b *Breaker) Execute(serviceName string, fn func() error) error {
	c := b.circuitFor(serviceName)

	allowed, tr := c.allow()
	if tr.changed {
		b.announce(serviceName, tr)
	}
	if !allowed {
		return types.ErrCircuitOpen
	}

	err := fn()
	if tr = c.record(err == nil); tr.changed {
		b.announce(serviceName, tr)
	}
	return err
}

// State returns the current state for a service. Services without a circuit
// yet are closed by definition.
func (b *Breaker) State(serviceName string) types.CircuitState {
	b.mu.RLock()
	c, ok := b.circuits[serviceName]
	b.mu.RUnlock()
	if !ok {
		return types.CircuitClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of one service's circuit
func (b *Breaker) Stats(serviceName string) (types.CircuitStats, bool) {
	b.mu.RLock()
	c, ok := b.circuits[serviceName]
	b.mu.RUnlock()
	if !ok {
		return types.CircuitStats{}, false
	}
	return c.snapshot(), true
}

// AllStats returns snapshots for every tracked service
func (b *Breaker) AllStats() map[string]types.CircuitStats {
	b.mu.RLock()
	circuits := make(map[string]*circuit, len(b.circuits))
	for name, c := range b.circuits {
		circuits[name] = c
	}
	b.mu.RUnlock()

	out := make(map[string]types.CircuitStats, len(circuits))
	for name, c := range circuits {
		out[name] = c.snapshot()
	}
	return out
}

// Reset manually closes a service's circuit and zeroes its counters
func (b *Breaker) Reset(serviceName string) {
	b.mu.RLock()
	c, ok := b.circuits[serviceName]
	b.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	tr := c.transitionLocked(types.CircuitClosed)
	c.mu.Unlock()

	b.logger.Info("Circuit manually reset", "service", serviceName)
	if tr.changed {
		b.announce(serviceName, tr)
	}
}

// ResetAll resets every tracked circuit
func (b *Breaker) ResetAll() {
	b.mu.RLock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.RUnlock()

	for _, name := range names {
		b.Reset(name)
	}
}

// circuitFor returns the circuit for a service, creating it lazily
func (b *Breaker) circuitFor(serviceName string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[serviceName]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[serviceName]; ok {
		return c
	}

	cfg := b.defaults
	if override, ok := b.overrides[serviceName]; ok {
		cfg = override
	}
	c = &circuit{
		config:          cfg,
		clock:           b.clock,
		state:           types.CircuitClosed,
		lastStateChange: b.clock.Now(),
	}
	b.circuits[serviceName] = c
	return c
}

func (b *Breaker) announce(serviceName string, tr transition) {
	switch tr.to {
	case types.CircuitOpen:
		b.logger.Warn("Circuit opened", "service", serviceName, "from", string(tr.from))
	case types.CircuitHalfOpen:
		b.logger.Info("Circuit half-open, probing backend", "service", serviceName)
	case types.CircuitClosed:
		b.logger.Info("Circuit closed", "service", serviceName, "from", string(tr.from))
	}
	if b.onChange != nil && tr.from != tr.to {
		b.onChange(serviceName, tr.from, tr.to)
	}
}

// circuit is the per-service state machine
type circuit struct {
	mu     sync.Mutex
	config types.CircuitConfig
	clock  clock.Clock

	state                types.CircuitState
	failures             uint64
	successes            uint64
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	totalRequests        uint64
	lastFailureTime      time.Time
	lastStateChange      time.Time
}

type transition struct {
	from    types.CircuitState
	to      types.CircuitState
	changed bool
}

// allow reports whether the next call may proceed. The OPEN -> HALF_OPEN
// move is evaluated here, lazily on the call attempt, not by a timer.
func (c *circuit) allow() (bool, transition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != types.CircuitOpen {
		return true, transition{}
	}
	if c.clock.Now().Sub(c.lastStateChange) < c.config.Timeout {
		return false, transition{}
	}
	return true, c.transitionLocked(types.CircuitHalfOpen)
}

// record applies one call outcome
func (c *circuit) record(success bool) transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if success {
		c.successes++
		c.consecutiveSuccesses++
		c.consecutiveFailures = 0
		if c.state == types.CircuitHalfOpen && c.consecutiveSuccesses >= uint32(c.config.SuccessThreshold) {
			return c.transitionLocked(types.CircuitClosed)
		}
		return transition{}
	}

	c.failures++
	c.consecutiveFailures++
	c.consecutiveSuccesses = 0
	c.lastFailureTime = c.clock.Now()

	switch c.state {
	case types.CircuitHalfOpen:
		// A single probe failure reopens the circuit
		return c.transitionLocked(types.CircuitOpen)
	case types.CircuitClosed:
		if c.totalRequests >= uint64(c.config.VolumeThreshold) && c.consecutiveFailures >= uint32(c.config.FailureThreshold) {
			return c.transitionLocked(types.CircuitOpen)
		}
	}
	return transition{}
}

// transitionLocked moves the circuit to a new state. Entering CLOSED starts
// a fresh observation window: every counter is zeroed.
func (c *circuit) transitionLocked(to types.CircuitState) transition {
	from := c.state
	c.state = to
	c.lastStateChange = c.clock.Now()
	if to == types.CircuitClosed {
		c.failures = 0
		c.successes = 0
		c.consecutiveFailures = 0
		c.consecutiveSuccesses = 0
		c.totalRequests = 0
		c.lastFailureTime = time.Time{}
	}
	return transition{from: from, to: to, changed: true}
}

func (c *circuit) snapshot() types.CircuitStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return types.CircuitStats{
		State:                c.state,
		Failures:             c.failures,
		Successes:            c.successes,
		ConsecutiveFailures:  c.consecutiveFailures,
		ConsecutiveSuccesses: c.consecutiveSuccesses,
		TotalRequests:        c.totalRequests,
		LastFailureTime:      c.lastFailureTime,
		LastStateChange:      c.lastStateChange,
	}
}
