package balancer

import (
	"vexgate/internal/types"
)

// leastConnections selects the instance with the fewest active connections.
// Ties resolve to the first instance encountered in input order.
type leastConnections struct{}

func (leastConnections) name() string { return StrategyLeastConnections }

func (leastConnections) pick(b *Balancer, serviceName string, instances []*types.ServiceInstance) *types.ServiceInstance {
	var selected *types.ServiceInstance
	var minConns int64
	for _, inst := range instances {
		conns := b.activeConnections(inst.ID)
		if selected == nil || conns < minConns {
			selected = inst
			minConns = conns
		}
	}
	return selected
}
