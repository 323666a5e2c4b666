package config

import (
	"fmt"
	"net"
	"strings"

	"vexgate/internal/types"
)

// Validate validates a GatewayConfig
func Validate(cfg *types.GatewayConfig) error {
	// Validate listen address
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if err := validateHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr: %w", err)
	}

	// Validate timeouts
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}

	// Validate load balancing
	validStrategies := map[string]bool{
		"round_robin":          true,
		"least_connections":    true,
		"random":               true,
		"weighted_round_robin": true,
	}
	if !validStrategies[cfg.LoadBalancing.Strategy] {
		return fmt.Errorf("invalid load balancing strategy: %s", cfg.LoadBalancing.Strategy)
	}

	// Validate registry
	switch cfg.Registry.Backend {
	case "static":
		for i, svc := range cfg.Registry.Services {
			if svc.Name == "" {
				return fmt.Errorf("registry.services[%d]: name is required", i)
			}
			if len(svc.Endpoints) == 0 {
				return fmt.Errorf("service %s: at least one endpoint is required", svc.Name)
			}
		}
	case "etcd":
		if len(cfg.Registry.Etcd.Endpoints) == 0 {
			return fmt.Errorf("registry.etcd.endpoints are required")
		}
	default:
		return fmt.Errorf("invalid registry.backend: %s", cfg.Registry.Backend)
	}

	// Validate health check
	if cfg.HealthCheck.Enabled {
		if cfg.HealthCheck.Interval <= 0 {
			return fmt.Errorf("health_check.interval must be positive")
		}
		if cfg.HealthCheck.Timeout <= 0 {
			return fmt.Errorf("health_check.timeout must be positive")
		}
		if cfg.HealthCheck.Timeout >= cfg.HealthCheck.Interval {
			return fmt.Errorf("health_check.timeout must be less than interval")
		}
		if cfg.HealthCheck.FailThreshold <= 0 {
			return fmt.Errorf("health_check.fail_threshold must be positive")
		}
		if cfg.HealthCheck.PassThreshold <= 0 {
			return fmt.Errorf("health_check.pass_threshold must be positive")
		}
	}

	// Validate circuit breaker defaults
	if cfg.CircuitBreaker.Defaults.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.defaults.failure_threshold must be positive")
	}
	if cfg.CircuitBreaker.Defaults.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.defaults.success_threshold must be positive")
	}
	if cfg.CircuitBreaker.Defaults.Timeout <= 0 {
		return fmt.Errorf("circuit_breaker.defaults.timeout must be positive")
	}
	if cfg.CircuitBreaker.Defaults.VolumeThreshold < 0 {
		return fmt.Errorf("circuit_breaker.defaults.volume_threshold must not be negative")
	}

	// Validate rate limiting
	if cfg.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate_limit.limit must be positive")
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive")
	}

	// Validate routes
	serviceNames := make(map[string]bool)
	for _, svc := range cfg.Registry.Services {
		serviceNames[svc.Name] = true
	}
	authRequired := false
	for i, route := range cfg.Routes {
		if route.PathPattern == "" {
			return fmt.Errorf("routes[%d]: path_pattern is required", i)
		}
		if route.TargetService == "" {
			return fmt.Errorf("route %s: target_service is required", route.PathPattern)
		}
		if cfg.Registry.Backend == "static" && !serviceNames[route.TargetService] {
			return fmt.Errorf("route %s targets unknown service: %s", route.PathPattern, route.TargetService)
		}
		if route.RateLimit != nil {
			if route.RateLimit.Limit <= 0 {
				return fmt.Errorf("route %s: rate_limit.limit must be positive", route.PathPattern)
			}
			if route.RateLimit.WindowSeconds <= 0 {
				return fmt.Errorf("route %s: rate_limit.window_seconds must be positive", route.PathPattern)
			}
		}
		if route.AuthRequired {
			authRequired = true
		}
	}
	if authRequired && cfg.Auth.ProviderURL == "" {
		return fmt.Errorf("auth.provider_url is required when a route sets auth_required")
	}

	// Validate store
	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("invalid store.backend: %s", cfg.Store.Backend)
	}

	// Validate tunnel
	if cfg.Tunnel.HandshakeTimeout <= 0 {
		return fmt.Errorf("tunnel.handshake_timeout must be positive")
	}
	if cfg.Tunnel.HeartbeatInterval <= 0 {
		return fmt.Errorf("tunnel.heartbeat_interval must be positive")
	}
	if cfg.Tunnel.IdleTimeout <= 0 {
		return fmt.Errorf("tunnel.idle_timeout must be positive")
	}

	// Validate TLS
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
		validVersions := map[string]bool{
			"1.0": true,
			"1.1": true,
			"1.2": true,
			"1.3": true,
		}
		if !validVersions[cfg.TLS.MinVersion] {
			return fmt.Errorf("invalid tls.min_version: %s", cfg.TLS.MinVersion)
		}
	}

	// Validate admin API
	if cfg.Admin.Enabled {
		if cfg.Admin.Addr == "" {
			return fmt.Errorf("admin.addr is required when the admin API is enabled")
		}
		if err := validateHostPort(cfg.Admin.Addr); err != nil {
			return fmt.Errorf("invalid admin.addr: %w", err)
		}
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		return fmt.Errorf("invalid logging.format: %s", cfg.Logging.Format)
	}

	// Validate metrics
	if cfg.Metrics.Enabled && cfg.Metrics.SystemInterval <= 0 {
		return fmt.Errorf("metrics.system_interval must be positive")
	}

	// 1..9 is the range every supported encoder accepts
	if cfg.Middleware.Compression.Enabled {
		if cfg.Middleware.Compression.Level < 1 || cfg.Middleware.Compression.Level > 9 {
			return fmt.Errorf("middleware.compression.level must be between 1 and 9")
		}
	}

	return nil
}

func validateHostPort(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		// Allow a bare host; try with a default port appended
		if _, _, err := net.SplitHostPort(addr + ":80"); err != nil {
			return err
		}
	}
	return nil
}
