// Package metrics implements the gateway's Prometheus metrics collector
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"vexgate/internal/types"
)

// Collector tracks application and system metrics. It implements
// types.MetricsCollector.
type Collector struct {
	// Request counters
	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64

	// Latency tracking
	latencies   []float64
	latenciesMu sync.RWMutex

	// System metrics
	cpuPercent  atomic.Value // float64
	memoryUsage atomic.Value // float64

	// Prometheus metrics
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	rateLimitRejections  *prometheus.CounterVec
	circuitState         *prometheus.GaugeVec
	circuitTransitions   *prometheus.CounterVec
	selectionsTotal      *prometheus.CounterVec
	tunnelSessionsActive prometheus.Gauge
	tunnelSessionsTotal  *prometheus.CounterVec
	tunnelFramesTotal    *prometheus.CounterVec
	cpuGauge             prometheus.Gauge
	memGauge             prometheus.Gauge

	startTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a metrics collector and starts the system
// metrics updater with the given interval.
func NewCollector(systemInterval time.Duration) *Collector {
	if systemInterval <= 0 {
		systemInterval = 15 * time.Second
	}

	c := &Collector{
		latencies: make([]float64, 0, 10000),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_requests_total",
				Help: "Total number of requests",
			},
			[]string{"method", "path", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vexgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),

		rateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),

		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vexgate_circuit_state",
				Help: "Circuit state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),

		circuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_circuit_transitions_total",
				Help: "Circuit state transitions",
			},
			[]string{"service", "from", "to"},
		),

		selectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_lb_selections_total",
				Help: "Load balancer instance selections",
			},
			[]string{"service", "strategy"},
		),

		tunnelSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vexgate_tunnel_sessions_active",
				Help: "Open streaming tunnel sessions",
			},
		),

		tunnelSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_tunnel_sessions_total",
				Help: "Streaming tunnel sessions accepted",
			},
			[]string{"service"},
		),

		tunnelFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexgate_tunnel_frames_total",
				Help: "Frames relayed through streaming tunnels",
			},
			[]string{"direction"},
		),

		cpuGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vexgate_cpu_percent",
				Help: "Process host CPU utilization",
			},
		),

		memGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vexgate_memory_used_mb",
				Help: "Process host memory usage in MB",
			},
		),
	}

	c.cpuPercent.Store(0.0)
	c.memoryUsage.Store(0.0)

	// Ignore duplicate registration so tests can build multiple collectors
	_ = prometheus.Register(c.requestsTotal)
	_ = prometheus.Register(c.requestDuration)
	_ = prometheus.Register(c.rateLimitRejections)
	_ = prometheus.Register(c.circuitState)
	_ = prometheus.Register(c.circuitTransitions)
	_ = prometheus.Register(c.selectionsTotal)
	_ = prometheus.Register(c.tunnelSessionsActive)
	_ = prometheus.Register(c.tunnelSessionsTotal)
	_ = prometheus.Register(c.tunnelFramesTotal)
	_ = prometheus.Register(c.cpuGauge)
	_ = prometheus.Register(c.memGauge)

	c.startSystemMetricsUpdater(systemInterval)

	return c
}

// RecordRequest records a request with its details
func (c *Collector) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	c.totalRequests.Add(1)
	if statusCode >= 400 {
		c.totalErrors.Add(1)
	}

	status := strconv.Itoa(statusCode)
	c.requestsTotal.WithLabelValues(method, path, status).Inc()
	c.requestDuration.WithLabelValues(method, status).Observe(duration.Seconds())

	// Store latency for percentile calculations
	c.latenciesMu.Lock()
	c.latencies = append(c.latencies, duration.Seconds()*1000)
	// Keep only last 10000 entries to prevent unbounded growth
	if len(c.latencies) > 10000 {
		c.latencies = c.latencies[len(c.latencies)-10000:]
	}
	c.latenciesMu.Unlock()
}

// RecordRateLimitRejection counts a 429 for a path
func (c *Collector) RecordRateLimitRejection(path string) {
	c.rateLimitRejections.WithLabelValues(path).Inc()
}

// RecordCircuitState updates the state gauge for a service
func (c *Collector) RecordCircuitState(service string, state types.CircuitState) {
	c.circuitState.WithLabelValues(service).Set(stateValue(state))
}

// RecordCircuitTransition counts a state transition
func (c *Collector) RecordCircuitTransition(service string, from, to types.CircuitState) {
	c.circuitTransitions.WithLabelValues(service, string(from), string(to)).Inc()
	c.circuitState.WithLabelValues(service).Set(stateValue(to))
}

// RecordSelection counts a load-balancer pick
func (c *Collector) RecordSelection(service, strategy string) {
	c.selectionsTotal.WithLabelValues(service, strategy).Inc()
}

// RecordTunnelOpened tracks a newly accepted streaming session
func (c *Collector) RecordTunnelOpened(service string) {
	c.tunnelSessionsTotal.WithLabelValues(service).Inc()
	c.tunnelSessionsActive.Inc()
}

// RecordTunnelClosed tracks a finished streaming session
func (c *Collector) RecordTunnelClosed(service string) {
	c.tunnelSessionsActive.Dec()
}

// RecordTunnelFrame counts a relayed frame in the given direction
func (c *Collector) RecordTunnelFrame(direction string) {
	c.tunnelFramesTotal.WithLabelValues(direction).Inc()
}

// Handler returns the metrics endpoint handler
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

func stateValue(state types.CircuitState) float64 {
	switch state {
	case types.CircuitOpen:
		return 2
	case types.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}

// Stats holds a point-in-time summary for the admin API
type Stats struct {
	TotalRequests  uint64        `json:"total_requests"`
	TotalErrors    uint64        `json:"total_errors"`
	RequestsPerSec float64       `json:"requests_per_second"`
	ErrorRate      float64       `json:"error_rate"`
	AvgLatencyMs   float64       `json:"avg_latency_ms"`
	P50LatencyMs   float64       `json:"p50_latency_ms"`
	P95LatencyMs   float64       `json:"p95_latency_ms"`
	P99LatencyMs   float64       `json:"p99_latency_ms"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryUsageMB  float64       `json:"memory_usage_mb"`
	Uptime         time.Duration `json:"uptime"`
}

// GetStats returns current statistics
func (c *Collector) GetStats() Stats {
	total := c.totalRequests.Load()
	errors := c.totalErrors.Load()

	duration := time.Since(c.startTime).Seconds()
	if duration == 0 {
		duration = 1 // Prevent division by zero
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errors) / float64(total) * 100
	}

	return Stats{
		TotalRequests:  total,
		TotalErrors:    errors,
		RequestsPerSec: float64(total) / duration,
		ErrorRate:      errorRate,
		AvgLatencyMs:   c.calculateAvgLatency(),
		P50LatencyMs:   c.calculatePercentile(50),
		P95LatencyMs:   c.calculatePercentile(95),
		P99LatencyMs:   c.calculatePercentile(99),
		CPUPercent:     c.cpuPercent.Load().(float64),
		MemoryUsageMB:  c.memoryUsage.Load().(float64),
		Uptime:         time.Since(c.startTime),
	}
}

// calculateAvgLatency calculates average latency
func (c *Collector) calculateAvgLatency() float64 {
	c.latenciesMu.RLock()
	defer c.latenciesMu.RUnlock()

	if len(c.latencies) == 0 {
		return 0
	}

	sum := 0.0
	for _, l := range c.latencies {
		sum += l
	}
	return sum / float64(len(c.latencies))
}

// calculatePercentile calculates the given percentile
func (c *Collector) calculatePercentile(p int) float64 {
	c.latenciesMu.RLock()
	defer c.latenciesMu.RUnlock()

	if len(c.latencies) == 0 {
		return 0
	}

	// Simple percentile calculation (not exact but good enough)
	index := len(c.latencies) * p / 100
	if index >= len(c.latencies) {
		index = len(c.latencies) - 1
	}

	return c.latencies[index]
}

// startSystemMetricsUpdater starts a goroutine to update system metrics
func (c *Collector) startSystemMetricsUpdater(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
					c.cpuPercent.Store(percent[0])
					c.cpuGauge.Set(percent[0])
				}

				if vmStat, err := mem.VirtualMemory(); err == nil {
					usedMB := float64(vmStat.Used) / 1024 / 1024
					c.memoryUsage.Store(usedMB)
					c.memGauge.Set(usedMB)
				}

			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
