package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vexgate/internal/auth"
	"vexgate/internal/balancer"
	"vexgate/internal/circuit"
	"vexgate/internal/config"
	"vexgate/internal/metrics"
	"vexgate/internal/middleware"
	"vexgate/internal/proxy"
	"vexgate/internal/ratelimit"
	"vexgate/internal/registry"
	"vexgate/internal/router"
	"vexgate/internal/server"
	"vexgate/internal/store"
	"vexgate/internal/tunnel"
	"vexgate/internal/types"
	"vexgate/internal/version"
	"vexgate/pkg/api"
)

func main() {
	var (
		configFile  = flag.String("config", "configs/vexgate.yml", "Configuration file path")
		showVersion = flag.Bool("version", false, "Show version information")
		validate    = flag.Bool("validate", false, "Validate configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Initialize logger. The level is atomic so config reloads can adjust it.
	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	zapLogger, err := initLogger(logLevel, "json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()

	// Wrap zap logger to implement types.Logger
	logger := wrapZapLogger(zapLogger)

	// Load configuration
	loader := config.NewLoader(*configFile, logger)
	cfg, err := loader.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *validate {
		logger.Info("Configuration is valid")
		os.Exit(0)
	}

	// Re-apply logging settings now that the config is known
	if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		logLevel.SetLevel(lvl)
	}
	if cfg.Logging.Format == "console" {
		if rebuilt, err := initLogger(logLevel, cfg.Logging.Format); err == nil {
			zapLogger = rebuilt
			logger = wrapZapLogger(zapLogger)
		}
	}

	// Initialize components
	app, err := initializeApp(cfg, logger, loader, logLevel)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := app.start(); err != nil {
		logger.Error("Failed to start servers", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	app.shutdown(shutdownCtx)
}

type application struct {
	gatewayServer *server.Server
	adminServer   *server.Server
	tunnels       *tunnel.Proxy
	collector     *metrics.Collector
	store         types.KeyValueStore
	registry      types.Registry
	health        *registry.HealthChecker
	watcher       *config.Watcher
	logger        types.Logger
}

func initializeApp(cfg *types.GatewayConfig, logger types.Logger, loader *config.Loader, logLevel zap.AtomicLevel) (*application, error) {
	// Shared key-value store
	kv, err := initStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Service registry plus active health checking for static backends
	reg, health, err := initRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	// Load balancer
	lb, err := balancer.New(cfg.LoadBalancing.Strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize load balancer: %w", err)
	}
	applyWeights(cfg, reg, lb)

	// Metrics collector
	var collector *metrics.Collector
	var mc types.MetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.SystemInterval)
		mc = collector
	}

	// Circuit breaker
	breakerOpts := []circuit.Option{circuit.WithOverrides(cfg.CircuitBreaker.Overrides)}
	if collector != nil {
		breakerOpts = append(breakerOpts, circuit.WithStateChangeHook(func(service string, from, to types.CircuitState) {
			collector.RecordCircuitTransition(service, from, to)
		}))
	}
	breaker := circuit.New(cfg.CircuitBreaker.Defaults, logger, breakerOpts...)

	// Rate limiter backed by the shared store
	limiter := ratelimit.New(kv, *cfg.DefaultRateLimitPolicy(), logger)

	// Token validator, only when an identity provider is configured
	var validator types.TokenValidator
	if cfg.Auth.ProviderURL != "" {
		idp := auth.NewClient(cfg.Auth.ProviderURL, cfg.Auth.Timeout, logger)
		validator = auth.NewValidator(kv, idp, auth.ValidatorConfig{
			CacheTTL:         cfg.Auth.CacheTTL,
			NegativeCacheTTL: cfg.Auth.NegativeCacheTTL,
		}, logger)
	}

	// Route table
	table, err := router.NewTable(cfg.Routes, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	// Streaming tunnel proxy
	tunnels := tunnel.New(tunnel.Config{
		HandshakeTimeout:  cfg.Tunnel.HandshakeTimeout,
		HeartbeatInterval: cfg.Tunnel.HeartbeatInterval,
		IdleTimeout:       cfg.Tunnel.IdleTimeout,
		MaxMessageSize:    cfg.Tunnel.MaxMessageSize,
	}, reg, validator, mc, logger)

	// Gateway data path
	gateway := proxy.New(proxy.Options{
		Table:     table,
		Registry:  reg,
		Balancer:  lb,
		Breaker:   breaker,
		Limiter:   limiter,
		Validator: validator,
		Tunnel:    tunnels,
		Metrics:   mc,
		Transport: proxy.NewTransport(cfg),
		Logger:    logger,
	})

	handler := buildMiddlewareChain(cfg, gateway, mc, logger)
	gatewayServer := server.New("gateway", cfg.ListenAddr, handler, cfg, logger)

	// Admin API server
	var adminServer *server.Server
	if cfg.Admin.Enabled {
		if cfg.Admin.AuthToken == "" && cfg.Admin.JWTSecret == "" {
			cfg.Admin.AuthToken = config.GenerateAPIKey()
			logger.Warn("Generated admin API token, set admin.auth_token to pin it",
				"token", cfg.Admin.AuthToken)
		}

		apiHandler := api.New(api.Options{
			Registry:  reg,
			Balancer:  lb,
			Breaker:   breaker,
			Table:     table,
			Collector: collector,
			Tunnels:   tunnels,
			Store:     kv,
			Config:    cfg,
			Logger:    logger,
		})
		adminServer = server.New("admin", cfg.Admin.Addr, apiHandler.Router(), cfg, logger)
	}

	// Config watcher for hot-reloadable settings
	watcher, err := config.NewWatcher(loader, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	watcher.OnChange(func(next *types.GatewayConfig) {
		if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil {
			logLevel.SetLevel(lvl)
		}
		if next.LoadBalancing.Strategy != lb.Strategy() {
			if err := lb.SetStrategy(next.LoadBalancing.Strategy); err != nil {
				logger.Warn("Ignoring unknown strategy from reloaded config",
					"strategy", next.LoadBalancing.Strategy)
			}
		}
	})

	return &application{
		gatewayServer: gatewayServer,
		adminServer:   adminServer,
		tunnels:       tunnels,
		collector:     collector,
		store:         kv,
		registry:      reg,
		health:        health,
		watcher:       watcher,
		logger:        logger,
	}, nil
}

func (a *application) start() error {
	if a.health != nil {
		a.health.Start()
	}
	a.tunnels.Start()

	if err := a.watcher.Start(context.Background()); err != nil {
		a.logger.Warn("Config watcher failed to start", "error", err)
	}

	if err := a.gatewayServer.Start(); err != nil {
		return fmt.Errorf("gateway server: %w", err)
	}
	if a.adminServer != nil {
		if err := a.adminServer.Start(); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}
	return nil
}

func (a *application) shutdown(ctx context.Context) {
	a.logger.Info("Starting graceful shutdown")

	if a.adminServer != nil {
		if err := a.adminServer.Stop(ctx); err != nil {
			a.logger.Error("Admin server shutdown error", "error", err)
		}
	}
	if err := a.gatewayServer.Stop(ctx); err != nil {
		a.logger.Error("Gateway server shutdown error", "error", err)
	}

	a.tunnels.Stop()

	_ = a.watcher.Stop()
	if a.health != nil {
		a.health.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	if closer, ok := a.registry.(io.Closer); ok {
		_ = closer.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Store close error", "error", err)
	}

	a.logger.Info("Shutdown completed successfully")
}

func buildMiddlewareChain(cfg *types.GatewayConfig, handler http.Handler, collector types.MetricsCollector, logger types.Logger) http.Handler {
	chain := middleware.NewChain()

	// Security headers (outermost)
	if cfg.Middleware.SecurityHeaders {
		chain.Use(middleware.SecurityHeaders())
	}

	// CORS
	if cfg.Middleware.CORS.Enabled {
		chain.Use(middleware.CORS(cfg))
	}

	// Request IDs travel with the request from here on
	chain.Use(middleware.RequestID())

	// Access logging
	if cfg.Logging.AccessLogs {
		chain.Use(middleware.AccessLogging(logger))
	}

	// Metrics
	if collector != nil {
		chain.Use(middleware.Metrics(collector))
	}

	// Compression (innermost, closest to the gateway)
	if cfg.Middleware.Compression.Enabled {
		chain.Use(middleware.Compression(cfg.Middleware.Compression.Level))
	}

	return chain.Then(handler)
}

func initStore(cfg *types.GatewayConfig, logger types.Logger) (types.KeyValueStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedis(store.RedisOptions{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			PoolSize:  cfg.Store.Redis.PoolSize,
			OpTimeout: cfg.Store.Redis.OpTimeout,
		}, logger)
	case "memory", "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func initRegistry(cfg *types.GatewayConfig, logger types.Logger) (types.Registry, *registry.HealthChecker, error) {
	switch cfg.Registry.Backend {
	case "etcd":
		reg, err := registry.NewEtcd(registry.EtcdConfig{
			Endpoints:   cfg.Registry.Etcd.Endpoints,
			Prefix:      cfg.Registry.Etcd.Prefix,
			DialTimeout: cfg.Registry.Etcd.DialTimeout,
		}, logger)
		// etcd watch events carry health state, no active checking needed
		return reg, nil, err
	case "static", "":
		reg, err := registry.NewStatic(cfg.Registry.Services, logger)
		if err != nil {
			return nil, nil, err
		}
		var health *registry.HealthChecker
		if cfg.HealthCheck.Enabled {
			health = registry.NewHealthChecker(reg, registry.HealthCheckerConfig{
				Interval:      cfg.HealthCheck.Interval,
				Timeout:       cfg.HealthCheck.Timeout,
				FailThreshold: cfg.HealthCheck.FailThreshold,
				PassThreshold: cfg.HealthCheck.PassThreshold,
			}, logger)
		}
		return reg, health, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry backend: %s", cfg.Registry.Backend)
	}
}

func applyWeights(cfg *types.GatewayConfig, reg types.Registry, lb types.LoadBalancer) {
	for _, svc := range cfg.Registry.Services {
		if svc.Weight <= 0 {
			continue
		}
		for _, inst := range reg.ListAll(svc.Name) {
			lb.SetWeight(inst.ID, svc.Weight)
		}
	}
}

func initLogger(level zap.AtomicLevel, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = level
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

// wrapZapLogger wraps zap.Logger to implement types.Logger
func wrapZapLogger(zap *zap.Logger) types.Logger {
	return &zapLoggerWrapper{zap: zap}
}

type zapLoggerWrapper struct {
	zap *zap.Logger
}

func (z *zapLoggerWrapper) Debug(msg string, fields ...interface{}) {
	z.zap.Debug(msg, z.fieldsToZap(fields)...)
}

func (z *zapLoggerWrapper) Info(msg string, fields ...interface{}) {
	z.zap.Info(msg, z.fieldsToZap(fields)...)
}

func (z *zapLoggerWrapper) Warn(msg string, fields ...interface{}) {
	z.zap.Warn(msg, z.fieldsToZap(fields)...)
}

func (z *zapLoggerWrapper) Error(msg string, fields ...interface{}) {
	z.zap.Error(msg, z.fieldsToZap(fields)...)
}

func (z *zapLoggerWrapper) With(fields ...interface{}) types.Logger {
	return &zapLoggerWrapper{zap: z.zap.With(z.fieldsToZap(fields)...)}
}

func (z *zapLoggerWrapper) fieldsToZap(fields []interface{}) []zap.Field {
	var zapFields []zap.Field
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if ok {
				zapFields = append(zapFields, zap.Any(key, fields[i+1]))
			}
		}
	}
	return zapFields
}
