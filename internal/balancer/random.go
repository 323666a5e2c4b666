package balancer

import (
	"math/rand"

	"vexgate/internal/types"
)

// random selects uniformly over the current instance list
type random struct{}

func (random) name() string { return StrategyRandom }

func (random) pick(b *Balancer, serviceName string, instances []*types.ServiceInstance) *types.ServiceInstance {
	return instances[rand.Intn(len(instances))]
}
