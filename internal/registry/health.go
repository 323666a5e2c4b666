package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"vexgate/internal/types"
)

// HealthChecker actively probes the static registry's instances and flips
// their health flag after consecutive failure/success thresholds.
type HealthChecker struct {
	registry      *StaticRegistry
	interval      time.Duration
	timeout       time.Duration
	failThreshold int
	passThreshold int
	client        *http.Client
	logger        types.Logger

	mu     sync.Mutex
	states map[string]*probeState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type probeState struct {
	consecutiveFails  int32
	consecutivePasses int32
	checkInProgress   int32
}

// HealthCheckerConfig holds probe settings
type HealthCheckerConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	FailThreshold int
	PassThreshold int
}

// NewHealthChecker creates a health checker for a static registry
func NewHealthChecker(registry *StaticRegistry, cfg HealthCheckerConfig, logger types.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 2
	}

	return &HealthChecker{
		registry:      registry,
		interval:      cfg.Interval,
		timeout:       cfg.Timeout,
		failThreshold: cfg.FailThreshold,
		passThreshold: cfg.PassThreshold,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		states: make(map[string]*probeState),
		stopCh: make(chan struct{}),
	}
}

// Start launches the probe loop
func (hc *HealthChecker) Start() {
	hc.wg.Add(1)
	go func() {
		defer hc.wg.Done()

		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()

		hc.sweep()
		for {
			select {
			case <-hc.stopCh:
				return
			case <-ticker.C:
				hc.sweep()
			}
		}
	}()
	hc.logger.Info("Health checker started", "interval", hc.interval)
}

// Stop terminates the probe loop and waits for in-flight probes
func (hc *HealthChecker) Stop() {
	close(hc.stopCh)
	hc.wg.Wait()
}

func (hc *HealthChecker) sweep() {
	for _, service := range hc.registry.Services() {
		for _, inst := range hc.registry.ListAll(service) {
			hc.wg.Add(1)
			go func(inst *types.ServiceInstance) {
				defer hc.wg.Done()
				hc.Check(inst)
			}(inst)
		}
	}
}

// Check probes one instance once. Concurrent checks of the same instance
// are coalesced.
func (hc *HealthChecker) Check(inst *types.ServiceInstance) {
	state := hc.stateFor(inst.ID)
	if !atomic.CompareAndSwapInt32(&state.checkInProgress, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&state.checkInProgress, 0)

	healthURL := inst.URL
	if path := inst.Metadata["health_path"]; path != "" {
		healthURL += path
	} else {
		healthURL += "/health"
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		hc.recordFailure(inst, err)
		return
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		hc.recordFailure(inst, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		hc.recordSuccess(inst)
		return
	}
	hc.recordFailure(inst, fmt.Errorf("unhealthy status: %d", resp.StatusCode))
}

func (hc *HealthChecker) recordSuccess(inst *types.ServiceInstance) {
	state := hc.stateFor(inst.ID)
	passes := atomic.AddInt32(&state.consecutivePasses, 1)
	atomic.StoreInt32(&state.consecutiveFails, 0)

	now := time.Now()
	if !inst.Healthy && passes >= int32(hc.passThreshold) {
		hc.registry.SetHealth(inst.ID, true, now)
		return
	}
	if inst.Healthy {
		hc.registry.SetHealth(inst.ID, true, now)
	}
}

func (hc *HealthChecker) recordFailure(inst *types.ServiceInstance, err error) {
	state := hc.stateFor(inst.ID)
	fails := atomic.AddInt32(&state.consecutiveFails, 1)
	atomic.StoreInt32(&state.consecutivePasses, 0)

	hc.logger.Debug("Health check failed",
		"instance", inst.ID,
		"service", inst.ServiceName,
		"consecutive_fails", fails,
		"error", err,
	)

	if inst.Healthy && fails >= int32(hc.failThreshold) {
		hc.registry.SetHealth(inst.ID, false, time.Now())
	}
}

func (hc *HealthChecker) stateFor(instanceID string) *probeState {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	state, ok := hc.states[instanceID]
	if !ok {
		state = &probeState{}
		hc.states[instanceID] = state
	}
	return state
}
