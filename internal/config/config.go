// Package config provides configuration management for vexgate
package config

import (
	"github.com/spf13/viper"
)

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("read_timeout", "30s")
	viper.SetDefault("write_timeout", "30s")
	viper.SetDefault("idle_timeout", "120s")
	viper.SetDefault("shutdown_timeout", "30s")

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.min_version", "1.2")

	// HTTP/2 defaults
	viper.SetDefault("http2.enabled", true)

	// Transport defaults
	viper.SetDefault("transport.max_idle_conns", 100)
	viper.SetDefault("transport.max_idle_conns_per_host", 10)
	viper.SetDefault("transport.max_conns_per_host", 100)
	viper.SetDefault("transport.idle_conn_timeout", "90s")
	viper.SetDefault("transport.dial_timeout", "30s")
	viper.SetDefault("transport.keep_alive", "30s")
	viper.SetDefault("transport.response_timeout", "30s")

	// Load balancing defaults
	viper.SetDefault("load_balancing.strategy", "round_robin")

	// Registry defaults
	viper.SetDefault("registry.backend", "static")
	viper.SetDefault("registry.etcd.prefix", "/vexgate/services")
	viper.SetDefault("registry.etcd.dial_timeout", "5s")

	// Health check defaults
	viper.SetDefault("health_check.enabled", true)
	viper.SetDefault("health_check.interval", "10s")
	viper.SetDefault("health_check.timeout", "5s")
	viper.SetDefault("health_check.fail_threshold", 3)
	viper.SetDefault("health_check.pass_threshold", 2)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.defaults.failure_threshold", 5)
	viper.SetDefault("circuit_breaker.defaults.success_threshold", 2)
	viper.SetDefault("circuit_breaker.defaults.timeout", "60s")
	viper.SetDefault("circuit_breaker.defaults.volume_threshold", 10)

	// Rate limiting defaults
	viper.SetDefault("rate_limit.limit", 100)
	viper.SetDefault("rate_limit.window_seconds", 60)

	// Authentication defaults
	viper.SetDefault("auth.timeout", "5s")
	viper.SetDefault("auth.cache_ttl", "300s")
	viper.SetDefault("auth.negative_cache_ttl", "30s")

	// Store defaults
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.pool_size", 10)
	viper.SetDefault("store.redis.op_timeout", "5s")

	// Tunnel defaults
	viper.SetDefault("tunnel.handshake_timeout", "10s")
	viper.SetDefault("tunnel.heartbeat_interval", "30s")
	viper.SetDefault("tunnel.idle_timeout", "60s")
	viper.SetDefault("tunnel.max_message_size", 0)

	// Middleware defaults
	viper.SetDefault("middleware.cors.enabled", false)
	viper.SetDefault("middleware.cors.allowed_origins", []string{"*"})
	viper.SetDefault("middleware.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	viper.SetDefault("middleware.cors.allowed_headers", []string{"Authorization", "Content-Type"})
	viper.SetDefault("middleware.cors.max_age", 86400)
	viper.SetDefault("middleware.compression.enabled", true)
	viper.SetDefault("middleware.compression.level", 5)
	viper.SetDefault("middleware.security_headers", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.access_logs", true)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.system_interval", "15s")

	// Admin API defaults
	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.addr", ":8081")
	viper.SetDefault("admin.rate_limit.rps", 10)
	viper.SetDefault("admin.rate_limit.burst", 20)
}
