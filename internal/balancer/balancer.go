// Package balancer implements instance selection strategies for vexgate
package balancer

import (
	"sync"
	"sync/atomic"

	"vexgate/internal/types"
)

// Balancer selects backend instances and owns all selection state:
// per-service counters and per-instance metrics. Strategies are stateless,
// so switching the strategy at runtime preserves accumulated metrics.
type Balancer struct {
	mu       sync.RWMutex
	strategy strategy
	counters map[string]*uint64
	metrics  map[string]*instanceMetrics
	logger   types.Logger
}

// instanceMetrics is the mutable per-instance state, updated atomically
type instanceMetrics struct {
	activeConnections int64
	totalRequests     uint64
	weight            int64
}

// New creates a balancer with the named strategy
func New(strategyName string, logger types.Logger) (*Balancer, error) {
	s, err := strategyByName(strategyName)
	if err != nil {
		return nil, err
	}
	return &Balancer{
		strategy: s,
		counters: make(map[string]*uint64),
		metrics:  make(map[string]*instanceMetrics),
		logger:   logger,
	}, nil
}

// Select returns the instance to use for the next call to a service.
// The input is the current healthy snapshot; unhealthy entries are skipped.
func (b *Balancer) Select(serviceName string, instances []*types.ServiceInstance) (*types.ServiceInstance, error) {
	healthy := make([]*types.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, types.ErrNoHealthyBackends
	}

	b.mu.RLock()
	s := b.strategy
	b.mu.RUnlock()

	selected := s.pick(b, serviceName, healthy)
	if selected == nil {
		return nil, types.ErrNoHealthyBackends
	}

	atomic.AddUint64(&b.metricsFor(selected.ID).totalRequests, 1)
	return selected, nil
}

// IncrementConnections marks the start of a proxied call to an instance
func (b *Balancer) IncrementConnections(instanceID string) {
	atomic.AddInt64(&b.metricsFor(instanceID).activeConnections, 1)
}

// DecrementConnections marks the end of a proxied call.
// The count clamps at zero, never negative.
func (b *Balancer) DecrementConnections(instanceID string) {
	m := b.metricsFor(instanceID)
	for {
		current := atomic.LoadInt64(&m.activeConnections)
		if current <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&m.activeConnections, current, current-1) {
			return
		}
	}
}

// SetWeight updates an instance weight; negative values clamp to zero
func (b *Balancer) SetWeight(instanceID string, weight int) {
	if weight < 0 {
		weight = 0
	}
	atomic.StoreInt64(&b.metricsFor(instanceID).weight, int64(weight))
}

// SetStrategy switches the selection strategy at runtime
func (b *Balancer) SetStrategy(name string) error {
	s, err := strategyByName(name)
	if err != nil {
		return err
	}

	b.mu.Lock()
	previous := b.strategy.name()
	b.strategy = s
	b.mu.Unlock()

	if previous != name {
		b.logger.Info("Switched load-balancing strategy", "from", previous, "to", name)
	}
	return nil
}

// Strategy returns the active strategy name
func (b *Balancer) Strategy() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.strategy.name()
}

// Metrics returns a snapshot of per-instance metrics
func (b *Balancer) Metrics() map[string]types.InstanceMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]types.InstanceMetrics, len(b.metrics))
	for id, m := range b.metrics {
		out[id] = types.InstanceMetrics{
			ActiveConnections: atomic.LoadInt64(&m.activeConnections),
			TotalRequests:     atomic.LoadUint64(&m.totalRequests),
			Weight:            int(atomic.LoadInt64(&m.weight)),
		}
	}
	return out
}

// metricsFor returns the metrics entry for an instance, creating it with
// weight 1 on first use.
func (b *Balancer) metricsFor(instanceID string) *instanceMetrics {
	b.mu.RLock()
	m, ok := b.metrics[instanceID]
	b.mu.RUnlock()
	if ok {
		return m
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok = b.metrics[instanceID]; ok {
		return m
	}
	m = &instanceMetrics{weight: 1}
	b.metrics[instanceID] = m
	return m
}

// nextCount advances the per-service selection counter. The counter is
// monotonic for the life of the process and is not reset when the instance
// set changes, so the assignment sequence shifts with the modulus.
func (b *Balancer) nextCount(serviceName string) uint64 {
	b.mu.RLock()
	c, ok := b.counters[serviceName]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		if c, ok = b.counters[serviceName]; !ok {
			c = new(uint64)
			b.counters[serviceName] = c
		}
		b.mu.Unlock()
	}
	return atomic.AddUint64(c, 1)
}

func (b *Balancer) activeConnections(instanceID string) int64 {
	return atomic.LoadInt64(&b.metricsFor(instanceID).activeConnections)
}

func (b *Balancer) weightOf(instanceID string) int64 {
	return atomic.LoadInt64(&b.metricsFor(instanceID).weight)
}
