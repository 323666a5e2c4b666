package types

import (
	"fmt"
	"time"
)

// ServiceInstance represents one concrete endpoint of a logical service.
// It is owned by the Registry; the data path treats it as read-only.
type ServiceInstance struct {
	ID              string            `json:"id" yaml:"id"`
	ServiceName     string            `json:"service_name" yaml:"service_name"`
	Host            string            `json:"host" yaml:"host"`
	Port            int               `json:"port" yaml:"port"`
	URL             string            `json:"url" yaml:"url"`
	Healthy         bool              `json:"healthy" yaml:"healthy"`
	LastHealthCheck time.Time         `json:"last_health_check" yaml:"last_health_check"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Address returns the host:port pair of the instance
func (i *ServiceInstance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// InstanceMetrics tracks per-instance load-balancing state.
// ActiveConnections and Weight never go negative.
type InstanceMetrics struct {
	ActiveConnections int64  `json:"active_connections"`
	TotalRequests     uint64 `json:"total_requests"`
	Weight            int    `json:"weight"`
}

// ServiceConfig describes a statically configured service and its endpoints
type ServiceConfig struct {
	Name       string            `json:"name" yaml:"name" mapstructure:"name"`
	Endpoints  []string          `json:"endpoints" yaml:"endpoints" mapstructure:"endpoints"`
	Weight     int               `json:"weight" yaml:"weight" mapstructure:"weight"`
	HealthPath string            `json:"health_path" yaml:"health_path" mapstructure:"health_path"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
}
