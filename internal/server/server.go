// Package server implements the HTTP/HTTPS listeners for vexgate
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"vexgate/internal/types"
)

// Server wraps one HTTP listener with the gateway's TLS and timeout
// settings. Both the data path and the admin API run on one of these.
type Server struct {
	name       string
	addr       string
	config     *types.GatewayConfig
	handler    http.Handler
	logger     types.Logger
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
}

// New creates a server for the given address and handler
func New(name, addr string, handler http.Handler, config *types.GatewayConfig, logger types.Logger) *Server {
	return &Server{
		name:    name,
		addr:    addr,
		config:  config,
		handler: handler,
		logger:  logger,
	}
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server %s already running", s.name)
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	if s.config.TLS.Enabled {
		tlsConfig, err := s.createTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	if s.config.HTTP2.Enabled {
		if err := s.configureHTTP2(); err != nil {
			return fmt.Errorf("failed to configure HTTP/2: %w", err)
		}
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.running = true
	go s.serve(listener)

	s.logger.Info("Server started",
		"name", s.name,
		"addr", listener.Addr().String(),
		"tls", s.config.TLS.Enabled,
		"http2", s.config.HTTP2.Enabled,
	)

	return nil
}

// Stop drains in-flight requests until the context expires
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("Stopping server", "name", s.name)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server %s: %w", s.name, err)
	}

	s.running = false
	return nil
}

func (s *Server) serve(listener net.Listener) {
	var err error

	if s.config.TLS.Enabled {
		err = s.httpServer.ServeTLS(listener, "", "")
	} else {
		// H2C lets HTTP/2 clients in without TLS
		if s.config.HTTP2.Enabled {
			h2s := &http2.Server{}
			s.httpServer.Handler = h2c.NewHandler(s.handler, h2s)
		}
		err = s.httpServer.Serve(listener)
	}

	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("Server error", "name", s.name, "error", err)
	}
}

func (s *Server) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: getTLSVersion(s.config.TLS.MinVersion),
		MaxVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	return tlsConfig, nil
}

func (s *Server) configureHTTP2() error {
	h2Server := &http2.Server{
		MaxConcurrentStreams: 250,
		MaxReadFrameSize:     1 << 20, // 1MB
		IdleTimeout:          s.config.IdleTimeout,
	}

	if err := http2.ConfigureServer(s.httpServer, h2Server); err != nil {
		return fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	return nil
}

// getTLSVersion converts a version string to the tls constant
func getTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// IsRunning reports whether the server is accepting connections
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ListenAddr returns the bound address, useful when listening on :0
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
