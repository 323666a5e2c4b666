package types

import (
	"time"
)

// CircuitState is the state of a per-service circuit breaker
type CircuitState string

const (
	// CircuitClosed allows calls through and records outcomes
	CircuitClosed CircuitState = "CLOSED"
	// CircuitOpen fails calls fast without reaching the backend
	CircuitOpen CircuitState = "OPEN"
	// CircuitHalfOpen probes the backend; one failure reopens
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitStats is a snapshot of one service's circuit.
// ConsecutiveFailures and ConsecutiveSuccesses are mutually exclusive:
// incrementing one resets the other.
type CircuitStats struct {
	State                CircuitState `json:"state"`
	Failures             uint64       `json:"failures"`
	Successes            uint64       `json:"successes"`
	ConsecutiveFailures  uint32       `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32       `json:"consecutive_successes"`
	TotalRequests        uint64       `json:"total_requests"`
	LastFailureTime      time.Time    `json:"last_failure_time"`
	LastStateChange      time.Time    `json:"last_state_change"`
}

// CircuitConfig holds the thresholds for one service's circuit.
// Immutable after load; VolumeThreshold prevents opening on a tiny sample.
type CircuitConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	VolumeThreshold  int           `json:"volume_threshold" yaml:"volume_threshold" mapstructure:"volume_threshold"`
}
