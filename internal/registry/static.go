// Package registry maintains the known backend instances per logical service
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"vexgate/internal/types"
)

// StaticRegistry serves instances seeded from configuration. Instances are
// mutated only by the health checker; queries return copies so readers never
// observe a partial update.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]*types.ServiceInstance
	byID      map[string]*types.ServiceInstance
	logger    types.Logger
}

// NewStatic builds a registry from the configured services. Every instance
// starts healthy and is probed by the health checker afterwards.
func NewStatic(services []types.ServiceConfig, logger types.Logger) (*StaticRegistry, error) {
	r := &StaticRegistry{
		instances: make(map[string][]*types.ServiceInstance),
		byID:      make(map[string]*types.ServiceInstance),
		logger:    logger,
	}

	for _, svc := range services {
		if svc.Name == "" {
			return nil, types.ValidationError{Field: "registry.services.name", Message: "service name is required"}
		}
		for _, endpoint := range svc.Endpoints {
			inst, err := newInstance(svc, endpoint)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", svc.Name, err)
			}
			r.instances[svc.Name] = append(r.instances[svc.Name], inst)
			r.byID[inst.ID] = inst
		}
		logger.Info("Registered service", "service", svc.Name, "instances", len(svc.Endpoints))
	}
	return r, nil
}

func newInstance(svc types.ServiceConfig, endpoint string) (*types.ServiceInstance, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme and host are required", endpoint)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	} else if u.Scheme == "https" {
		port = 443
	} else {
		port = 80
	}

	metadata := make(map[string]string, len(svc.Metadata)+1)
	for k, v := range svc.Metadata {
		metadata[k] = v
	}
	if svc.HealthPath != "" {
		metadata["health_path"] = svc.HealthPath
	}

	return &types.ServiceInstance{
		ID:          svc.Name + "-" + u.Host,
		ServiceName: svc.Name,
		Host:        u.Hostname(),
		Port:        port,
		URL:         endpoint,
		Healthy:     true,
		Metadata:    metadata,
	}, nil
}

// ListHealthy returns copies of the healthy instances for a service
func (r *StaticRegistry) ListHealthy(serviceName string) []*types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.ServiceInstance
	for _, inst := range r.instances[serviceName] {
		if inst.Healthy {
			out = append(out, copyInstance(inst))
		}
	}
	return out
}

// PickAny returns any healthy instance for a service, or nil
func (r *StaticRegistry) PickAny(serviceName string) *types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.instances[serviceName] {
		if inst.Healthy {
			return copyInstance(inst)
		}
	}
	return nil
}

// IsAvailable reports whether the service has at least one healthy instance
func (r *StaticRegistry) IsAvailable(serviceName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.instances[serviceName] {
		if inst.Healthy {
			return true
		}
	}
	return false
}

// ListAll returns copies of every registered instance for a service
func (r *StaticRegistry) ListAll(serviceName string) []*types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.ServiceInstance, 0, len(r.instances[serviceName]))
	for _, inst := range r.instances[serviceName] {
		out = append(out, copyInstance(inst))
	}
	return out
}

// Services returns all registered service names, sorted
func (r *StaticRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetHealth updates an instance's health flag and check timestamp.
// Only the health checker calls this.
func (r *StaticRegistry) SetHealth(instanceID string, healthy bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[instanceID]
	if !ok {
		return
	}
	if inst.Healthy != healthy {
		if healthy {
			r.logger.Info("Instance recovered", "instance", instanceID, "service", inst.ServiceName)
		} else {
			r.logger.Warn("Instance marked unhealthy", "instance", instanceID, "service", inst.ServiceName)
		}
	}
	inst.Healthy = healthy
	inst.LastHealthCheck = at
}

func copyInstance(inst *types.ServiceInstance) *types.ServiceInstance {
	dup := *inst
	if inst.Metadata != nil {
		dup.Metadata = make(map[string]string, len(inst.Metadata))
		for k, v := range inst.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
