package balancer

import (
	"fmt"

	"vexgate/internal/types"
)

// Strategy names accepted by New and SetStrategy
const (
	StrategyRoundRobin         = "round_robin"
	StrategyLeastConnections   = "least_connections"
	StrategyRandom             = "random"
	StrategyWeightedRoundRobin = "weighted_round_robin"
)

// strategy picks an instance from a non-empty healthy snapshot.
// Implementations are stateless; counters and weights live on the Balancer.
type strategy interface {
	name() string
	pick(b *Balancer, serviceName string, instances []*types.ServiceInstance) *types.ServiceInstance
}

func strategyByName(name string) (strategy, error) {
	switch name {
	case StrategyRoundRobin:
		return roundRobin{}, nil
	case StrategyLeastConnections:
		return leastConnections{}, nil
	case StrategyRandom:
		return random{}, nil
	case StrategyWeightedRoundRobin:
		return weightedRoundRobin{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, name)
	}
}
