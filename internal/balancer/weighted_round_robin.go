package balancer

import (
	"vexgate/internal/types"
)

// weightedRoundRobin walks cumulative weights using the per-service counter.
// An instance with weight 0 is never selected; if every instance has weight
// 0 the strategy falls back to plain round robin.
type weightedRoundRobin struct{}

func (weightedRoundRobin) name() string { return StrategyWeightedRoundRobin }

func (weightedRoundRobin) pick(b *Balancer, serviceName string, instances []*types.ServiceInstance) *types.ServiceInstance {
	var total uint64
	for _, inst := range instances {
		if w := b.weightOf(inst.ID); w > 0 {
			total += uint64(w)
		}
	}
	if total == 0 {
		return roundRobin{}.pick(b, serviceName, instances)
	}

	count := b.nextCount(serviceName)
	slot := (count - 1) % total

	var cumulative uint64
	for _, inst := range instances {
		w := b.weightOf(inst.ID)
		if w <= 0 {
			continue
		}
		cumulative += uint64(w)
		if slot < cumulative {
			return inst
		}
	}
	return instances[len(instances)-1]
}
