package balancer

import (
	"vexgate/internal/types"
)

// roundRobin cycles through instances using the per-service counter
type roundRobin struct{}

func (roundRobin) name() string { return StrategyRoundRobin }

func (roundRobin) pick(b *Balancer, serviceName string, instances []*types.ServiceInstance) *types.ServiceInstance {
	count := b.nextCount(serviceName)
	index := (count - 1) % uint64(len(instances))
	return instances[index]
}
