// Package api implements the admin REST API for vexgate
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"vexgate/internal/metrics"
	"vexgate/internal/middleware"
	"vexgate/internal/router"
	"vexgate/internal/tunnel"
	"vexgate/internal/types"
	"vexgate/internal/version"
)

// Handler exposes the gateway's operational state: circuits, instances,
// routes, the active balancing strategy and live tunnel sessions.
type Handler struct {
	registry  types.Registry
	balancer  types.LoadBalancer
	breaker   types.CircuitBreaker
	table     *router.Table
	collector *metrics.Collector
	tunnels   *tunnel.Proxy
	store     types.KeyValueStore
	config    *types.GatewayConfig
	logger    types.Logger
}

// Options for creating an API handler
type Options struct {
	Registry  types.Registry
	Balancer  types.LoadBalancer
	Breaker   types.CircuitBreaker
	Table     *router.Table
	Collector *metrics.Collector
	Tunnels   *tunnel.Proxy
	Store     types.KeyValueStore
	Config    *types.GatewayConfig
	Logger    types.Logger
}

// New creates an API handler instance
func New(opts Options) *Handler {
	return &Handler{
		registry:  opts.Registry,
		balancer:  opts.Balancer,
		breaker:   opts.Breaker,
		table:     opts.Table,
		collector: opts.Collector,
		tunnels:   opts.Tunnels,
		store:     opts.Store,
		config:    opts.Config,
		logger:    opts.Logger,
	}
}

// Router returns the HTTP handler for the admin API
func (h *Handler) Router() http.Handler {
	mainRouter := mux.NewRouter()

	// Public endpoints
	mainRouter.HandleFunc("/health", h.handleHealth).Methods("GET")
	mainRouter.HandleFunc("/version", h.handleVersion).Methods("GET")

	// Prometheus endpoint, no auth and no JSON middleware
	if h.config.Metrics.Enabled && h.collector != nil {
		mainRouter.Handle("/metrics", h.collector.Handler()).Methods("GET")
	}

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	// Circuits
	apiRouter.HandleFunc("/circuits", h.handleListCircuits).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/circuits/reset", h.handleResetAllCircuits).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/circuits/{service}/reset", h.handleResetCircuit).Methods("POST", "OPTIONS")

	// Services and instances
	apiRouter.HandleFunc("/services", h.handleListServices).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/services/{name}/instances", h.handleListInstances).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/instances", h.handleInstanceMetrics).Methods("GET", "OPTIONS")

	// Routes
	apiRouter.HandleFunc("/routes", h.handleListRoutes).Methods("GET", "OPTIONS")

	// Load-balancing strategy
	apiRouter.HandleFunc("/strategy", h.handleGetStrategy).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/strategy", h.handleSetStrategy).Methods("PUT", "OPTIONS")

	// Streaming sessions
	apiRouter.HandleFunc("/tunnels", h.handleListTunnels).Methods("GET", "OPTIONS")

	// Request statistics
	apiRouter.HandleFunc("/stats", h.handleStats).Methods("GET", "OPTIONS")

	apiRouter.Use(func(next http.Handler) http.Handler {
		return loggingMiddleware(next, h.logger)
	})
	apiRouter.Use(mux.MiddlewareFunc(corsMiddleware))
	apiRouter.Use(mux.MiddlewareFunc(jsonMiddleware))

	if rps := h.config.Admin.RateLimit.RPS; rps > 0 {
		limit := middleware.LocalRateLimit(rps, h.config.Admin.RateLimit.Burst)
		apiRouter.Use(mux.MiddlewareFunc(limit))
	}

	if h.config.Admin.AuthToken != "" || h.config.Admin.JWTSecret != "" {
		apiRouter.Use(func(next http.Handler) http.Handler {
			return authMiddleware(next, h.config.Admin.AuthToken, h.config.Admin.JWTSecret)
		})
	}

	return mainRouter
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.GetInfo()

	status := "healthy"
	storeStatus := "up"
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			status = "degraded"
			storeStatus = "down"
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   versionInfo.Version,
		"store":     storeStatus,
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"go_version": versionInfo.GoVersion,
			"uptime":     versionInfo.Uptime,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, health)
}

// handleVersion handles GET /version
func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	respondJSON(w, http.StatusOK, version.GetInfo())
}

// handleListCircuits handles GET /api/v1/circuits
func (h *Handler) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.breaker.AllStats())
}

// handleResetCircuit handles POST /api/v1/circuits/{service}/reset
func (h *Handler) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]

	if _, ok := h.breaker.Stats(service); !ok {
		respondError(w, http.StatusNotFound, "no circuit for service "+service)
		return
	}

	h.breaker.Reset(service)
	h.logger.Info("Circuit manually reset", "service", service, "remote", r.RemoteAddr)

	stats, _ := h.breaker.Stats(service)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": service,
		"circuit": stats,
	})
}

// handleResetAllCircuits handles POST /api/v1/circuits/reset
func (h *Handler) handleResetAllCircuits(w http.ResponseWriter, r *http.Request) {
	h.breaker.ResetAll()
	h.logger.Info("All circuits manually reset", "remote", r.RemoteAddr)
	respondJSON(w, http.StatusOK, h.breaker.AllStats())
}

// handleListServices handles GET /api/v1/services
func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	lbMetrics := h.balancer.Metrics()

	names := h.registry.Services()
	services := make([]ServiceResponse, 0, len(names))
	for _, name := range names {
		services = append(services, h.serviceResponse(name, lbMetrics))
	}

	respondJSON(w, http.StatusOK, services)
}

// handleListInstances handles GET /api/v1/services/{name}/instances
func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !h.knownService(name) {
		respondError(w, http.StatusNotFound, "service not found: "+name)
		return
	}

	resp := h.serviceResponse(name, h.balancer.Metrics())
	respondJSON(w, http.StatusOK, resp.Instances)
}

// handleInstanceMetrics handles GET /api/v1/instances
func (h *Handler) handleInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.balancer.Metrics())
}

// handleListRoutes handles GET /api/v1/routes
func (h *Handler) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.table.Routes())
}

// handleGetStrategy handles GET /api/v1/strategy
func (h *Handler) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StrategyResponse{Strategy: h.balancer.Strategy()})
}

// handleSetStrategy handles PUT /api/v1/strategy
func (h *Handler) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.balancer.SetStrategy(req.Strategy); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("Load-balancing strategy changed", "strategy", req.Strategy, "remote", r.RemoteAddr)
	respondJSON(w, http.StatusOK, StrategyResponse{Strategy: h.balancer.Strategy()})
}

// handleListTunnels handles GET /api/v1/tunnels
func (h *Handler) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	if h.tunnels == nil {
		respondJSON(w, http.StatusOK, []tunnel.SessionInfo{})
		return
	}
	respondJSON(w, http.StatusOK, h.tunnels.Sessions())
}

// handleStats handles GET /api/v1/stats
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		respondError(w, http.StatusNotFound, "metrics collection is disabled")
		return
	}
	respondJSON(w, http.StatusOK, h.collector.GetStats())
}

func (h *Handler) knownService(name string) bool {
	for _, svc := range h.registry.Services() {
		if svc == name {
			return true
		}
	}
	return false
}

func (h *Handler) serviceResponse(name string, lbMetrics map[string]types.InstanceMetrics) ServiceResponse {
	instances := h.registry.ListAll(name)

	resp := ServiceResponse{
		Name:      name,
		Total:     len(instances),
		Instances: make([]InstanceResponse, 0, len(instances)),
	}

	for _, inst := range instances {
		if inst.Healthy {
			resp.Healthy++
		}
		row := InstanceResponse{
			ID:              inst.ID,
			URL:             inst.URL,
			Healthy:         inst.Healthy,
			LastHealthCheck: inst.LastHealthCheck,
		}
		if m, ok := lbMetrics[inst.ID]; ok {
			row.ActiveConnections = m.ActiveConnections
			row.TotalRequests = m.TotalRequests
			row.Weight = m.Weight
		}
		resp.Instances = append(resp.Instances, row)
	}

	return resp
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, nothing left to do.
			return
		}
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
