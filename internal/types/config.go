package types

import "time"

// GatewayConfig represents the complete gateway configuration
type GatewayConfig struct {
	// Server configuration
	ListenAddr      string        `yaml:"listen_addr" mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// TLS configuration
	TLS struct {
		Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
		CertFile   string `yaml:"cert_file,omitempty" mapstructure:"cert_file"`
		KeyFile    string `yaml:"key_file,omitempty" mapstructure:"key_file"`
		MinVersion string `yaml:"min_version" mapstructure:"min_version"`
	} `yaml:"tls" mapstructure:"tls"`

	// HTTP/2
	HTTP2 struct {
		Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	} `yaml:"http2" mapstructure:"http2"`

	// Upstream transport configuration
	Transport struct {
		MaxIdleConns        int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
		MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
		MaxConnsPerHost     int           `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`
		IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
		DialTimeout         time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
		KeepAlive           time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
		ResponseTimeout     time.Duration `yaml:"response_timeout" mapstructure:"response_timeout"`
	} `yaml:"transport" mapstructure:"transport"`

	// Load balancing
	LoadBalancing struct {
		Strategy string `yaml:"strategy" mapstructure:"strategy"` // round_robin, least_connections, random, weighted_round_robin
	} `yaml:"load_balancing" mapstructure:"load_balancing"`

	// Service registry
	Registry struct {
		Backend  string          `yaml:"backend" mapstructure:"backend"` // static, etcd
		Services []ServiceConfig `yaml:"services" mapstructure:"services"`
		Etcd     struct {
			Endpoints   []string      `yaml:"endpoints" mapstructure:"endpoints"`
			Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
			DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
		} `yaml:"etcd" mapstructure:"etcd"`
	} `yaml:"registry" mapstructure:"registry"`

	// Health checking (static registry only)
	HealthCheck struct {
		Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
		Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
		Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
		FailThreshold int           `yaml:"fail_threshold" mapstructure:"fail_threshold"`
		PassThreshold int           `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	} `yaml:"health_check" mapstructure:"health_check"`

	// Circuit breaking
	CircuitBreaker struct {
		Defaults  CircuitConfig            `yaml:"defaults" mapstructure:"defaults"`
		Overrides map[string]CircuitConfig `yaml:"overrides,omitempty" mapstructure:"overrides"`
	} `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`

	// Rate limiting defaults; per-route policies override
	RateLimit struct {
		Limit         int `yaml:"limit" mapstructure:"limit"`
		WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Authentication
	Auth struct {
		ProviderURL      string        `yaml:"provider_url" mapstructure:"provider_url"`
		Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
		CacheTTL         time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
		NegativeCacheTTL time.Duration `yaml:"negative_cache_ttl" mapstructure:"negative_cache_ttl"`
	} `yaml:"auth" mapstructure:"auth"`

	// Shared key-value store
	Store struct {
		Backend string `yaml:"backend" mapstructure:"backend"` // redis, memory
		Redis   struct {
			Addr      string        `yaml:"addr" mapstructure:"addr"`
			Password  string        `yaml:"password,omitempty" mapstructure:"password"`
			DB        int           `yaml:"db" mapstructure:"db"`
			PoolSize  int           `yaml:"pool_size" mapstructure:"pool_size"`
			OpTimeout time.Duration `yaml:"op_timeout" mapstructure:"op_timeout"`
		} `yaml:"redis" mapstructure:"redis"`
	} `yaml:"store" mapstructure:"store"`

	// Routes, evaluated in declared order
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes"`

	// Streaming tunnel
	Tunnel struct {
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
		IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
		MaxMessageSize    int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	} `yaml:"tunnel" mapstructure:"tunnel"`

	// Middleware
	Middleware struct {
		CORS struct {
			Enabled          bool     `yaml:"enabled" mapstructure:"enabled"`
			AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
			AllowedMethods   []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
			AllowedHeaders   []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
			AllowCredentials bool     `yaml:"allow_credentials" mapstructure:"allow_credentials"`
			MaxAge           int      `yaml:"max_age" mapstructure:"max_age"`
		} `yaml:"cors" mapstructure:"cors"`
		Compression struct {
			Enabled bool `yaml:"enabled" mapstructure:"enabled"`
			Level   int  `yaml:"level" mapstructure:"level"`
		} `yaml:"compression" mapstructure:"compression"`
		SecurityHeaders bool `yaml:"security_headers" mapstructure:"security_headers"`
	} `yaml:"middleware" mapstructure:"middleware"`

	// Logging
	Logging struct {
		Level      string `yaml:"level" mapstructure:"level"`
		Format     string `yaml:"format" mapstructure:"format"` // json, console
		AccessLogs bool   `yaml:"access_logs" mapstructure:"access_logs"`
	} `yaml:"logging" mapstructure:"logging"`

	// Metrics
	Metrics struct {
		Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
		SystemInterval time.Duration `yaml:"system_interval" mapstructure:"system_interval"`
	} `yaml:"metrics" mapstructure:"metrics"`

	// Management API
	Admin struct {
		Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
		Addr      string `yaml:"addr" mapstructure:"addr"`
		AuthToken string `yaml:"auth_token,omitempty" mapstructure:"auth_token"`
		JWTSecret string `yaml:"jwt_secret,omitempty" mapstructure:"jwt_secret"`
		RateLimit struct {
			RPS   float64 `yaml:"rps" mapstructure:"rps"`
			Burst int     `yaml:"burst" mapstructure:"burst"`
		} `yaml:"rate_limit" mapstructure:"rate_limit"`
	} `yaml:"admin" mapstructure:"admin"`
}

// DefaultRateLimitPolicy returns the service-wide fallback policy
func (c *GatewayConfig) DefaultRateLimitPolicy() *RateLimitPolicy {
	return &RateLimitPolicy{
		Limit:         c.RateLimit.Limit,
		WindowSeconds: c.RateLimit.WindowSeconds,
	}
}

// CircuitConfigFor returns the circuit configuration for a service,
// falling back to the shared defaults.
func (c *GatewayConfig) CircuitConfigFor(service string) CircuitConfig {
	if cfg, ok := c.CircuitBreaker.Overrides[service]; ok {
		if cfg.FailureThreshold <= 0 {
			cfg.FailureThreshold = c.CircuitBreaker.Defaults.FailureThreshold
		}
		if cfg.SuccessThreshold <= 0 {
			cfg.SuccessThreshold = c.CircuitBreaker.Defaults.SuccessThreshold
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = c.CircuitBreaker.Defaults.Timeout
		}
		if cfg.VolumeThreshold <= 0 {
			cfg.VolumeThreshold = c.CircuitBreaker.Defaults.VolumeThreshold
		}
		return cfg
	}
	return c.CircuitBreaker.Defaults
}
