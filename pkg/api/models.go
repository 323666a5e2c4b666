package api

import "time"

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StrategyRequest selects a load-balancing strategy
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// StrategyResponse reports the active load-balancing strategy
type StrategyResponse struct {
	Strategy string `json:"strategy"`
}

// InstanceResponse is one backend instance with its balancer counters
type InstanceResponse struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Healthy           bool      `json:"healthy"`
	LastHealthCheck   time.Time `json:"last_health_check"`
	ActiveConnections int64     `json:"active_connections"`
	TotalRequests     uint64    `json:"total_requests"`
	Weight            int       `json:"weight"`
}

// ServiceResponse is one registered service and its instances
type ServiceResponse struct {
	Name      string             `json:"name"`
	Healthy   int                `json:"healthy_instances"`
	Total     int                `json:"total_instances"`
	Instances []InstanceResponse `json:"instances"`
}
