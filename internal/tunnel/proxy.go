// Package tunnel relays duplex streaming sessions between clients and
// backend instances. A session is authenticated once at handshake time,
// bound to one backend, and torn down when either side goes away or the
// liveness sweep finds it idle.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"vexgate/internal/middleware"
	"vexgate/internal/types"
)

const (
	// writeWait bounds control-frame writes to a peer
	writeWait = 10 * time.Second

	// bearerSubprotocol carries the credential when headers are not
	// available to the client, as a ("bearer", <token>) protocol pair
	bearerSubprotocol = "bearer"
)

// Config holds the tunnel timeouts
type Config struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxMessageSize    int64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 60 * time.Second
	}
	return out
}

// Proxy upgrades inbound connections and relays frames to a backend
type Proxy struct {
	config    Config
	registry  types.Registry
	validator types.TokenValidator
	metrics   types.MetricsCollector
	logger    types.Logger
	clock     clock.Clock

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Proxy
type Option func(*Proxy)

// WithClock substitutes the wall clock, for tests
func WithClock(clk clock.Clock) Option {
	return func(p *Proxy) {
		p.clock = clk
	}
}

// New creates a tunnel proxy. The validator must be configured: every
// session is authenticated at handshake time regardless of route settings.
func New(cfg Config, registry types.Registry, validator types.TokenValidator, metrics types.MetricsCollector, logger types.Logger, opts ...Option) *Proxy {
	cfg = cfg.withDefaults()

	p := &Proxy{
		config:    cfg,
		registry:  registry,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		clock:     clock.New(),
		sessions:  make(map[string]*Session),
		stopCh:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is the backend's concern; the gateway
			// relays for arbitrary applications.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// closeError maps a handshake failure to a websocket close code
type closeError struct {
	code int
	text string
}

func (e *closeError) Error() string {
	return e.text
}

// HandleUpgrade accepts an upgrade request for the target service. The
// handshake sequence is credential extraction, token validation, instance
// lookup and backend dial; any failure closes the client with a code that
// names the stage that failed.
func (p *Proxy) HandleUpgrade(w http.ResponseWriter, r *http.Request, targetService string) {
	token, viaSubprotocol := extractCredential(r)

	var responseHeader http.Header
	if viaSubprotocol {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {bearerSubprotocol}}
	}

	client, err := p.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		p.logger.Debug("Tunnel upgrade failed", "path", r.URL.Path, "error", err)
		return
	}

	session, err := p.establish(r, client, targetService, token)
	if err != nil {
		p.rejectClient(client, targetService, err)
		return
	}

	p.add(session)
	go p.relay(session)
}

// establish authenticates the session and opens the backend side
func (p *Proxy) establish(r *http.Request, client *websocket.Conn, targetService, token string) (*Session, error) {
	if token == "" {
		return nil, &closeError{code: websocket.ClosePolicyViolation, text: "authentication required"}
	}
	if p.validator == nil {
		return nil, &closeError{code: websocket.ClosePolicyViolation, text: "authentication is not configured"}
	}

	// The request context dies with the handshake goroutine once the
	// connection is hijacked; validation runs on its own.
	claims, err := p.validator.Validate(context.Background(), token)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			return nil, &closeError{code: websocket.ClosePolicyViolation, text: "authentication failed"}
		}
		return nil, &closeError{code: websocket.CloseInternalServerErr, text: "authentication unavailable"}
	}

	instance := p.registry.PickAny(targetService)
	if instance == nil {
		return nil, &closeError{code: websocket.CloseTryAgainLater, text: "no healthy backend available"}
	}

	backendURL, err := backendURL(instance, r)
	if err != nil {
		p.logger.Error("Invalid instance URL", "instance", instance.ID, "url", instance.URL, "error", err)
		return nil, &closeError{code: websocket.CloseInternalServerErr, text: "backend connection failed"}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-User-ID", claims.UserID)
	if claims.Email != "" {
		header.Set("X-User-Email", claims.Email)
	}
	header.Set("X-Forwarded-For", middleware.ClientIP(r))

	backend, resp, err := p.dialer.Dial(backendURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		p.logger.Warn("Backend tunnel dial failed",
			"service", targetService,
			"instance", instance.ID,
			"error", err,
		)
		return nil, &closeError{code: websocket.CloseInternalServerErr, text: "backend connection failed"}
	}

	if p.config.MaxMessageSize > 0 {
		client.SetReadLimit(p.config.MaxMessageSize)
		backend.SetReadLimit(p.config.MaxMessageSize)
	}

	now := p.clock.Now()
	session := newSession(targetService, claims.UserID, client, backend, now)

	// Pongs prove the peer is alive even when it has nothing to say.
	client.SetPongHandler(func(string) error {
		session.touch(p.clock.Now())
		return nil
	})

	p.logger.Info("Tunnel session established",
		"session_id", session.ID,
		"service", targetService,
		"user_id", claims.UserID,
		"instance", instance.ID,
	)

	return session, nil
}

// rejectClient completes the handshake failure: the client is already
// upgraded, so the failure travels as a close frame
func (p *Proxy) rejectClient(client *websocket.Conn, targetService string, err error) {
	code := websocket.CloseInternalServerErr
	text := "internal error"
	var ce *closeError
	if errors.As(err, &ce) {
		code, text = ce.code, ce.text
	}

	p.logger.Warn("Tunnel handshake rejected",
		"service", targetService,
		"code", code,
		"reason", text,
	)

	deadline := time.Now().Add(writeWait)
	_ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = client.Close()
}

// relay runs one pump per direction and tears the session down when the
// first one stops
func (p *Proxy) relay(s *Session) {
	defer p.remove(s)

	clientErr := make(chan error, 1)
	backendErr := make(chan error, 1)

	go func() { clientErr <- p.pump(s, s.client, s.backend, "client_to_backend") }()
	go func() { backendErr <- p.pump(s, s.backend, s.client, "backend_to_client") }()

	deadline := func() time.Time { return time.Now().Add(writeWait) }

	select {
	case err := <-clientErr:
		if !isExpectedClose(err) {
			p.logger.Debug("Client side of tunnel ended", "session_id", s.ID, "error", err)
		}
		_ = s.backend.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
	case err := <-backendErr:
		// The backend went away first. There is no reconnect: the client
		// learns the session is gone and decides what to do next.
		if isExpectedClose(err) {
			_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		} else {
			p.logger.Warn("Backend side of tunnel lost", "session_id", s.ID, "service", s.ServiceName, "error", err)
			_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend connection lost"), deadline())
		}
	}

	s.close()
}

// pump relays frames one direction, preserving the message type
func (p *Proxy) pump(s *Session, from, to *websocket.Conn, direction string) error {
	for {
		messageType, data, err := from.ReadMessage()
		if err != nil {
			return err
		}

		s.touch(p.clock.Now())
		if p.metrics != nil {
			p.metrics.RecordTunnelFrame(direction)
		}

		if err := to.WriteMessage(messageType, data); err != nil {
			return err
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// extractCredential finds the bearer token, trying the query parameter,
// the authorization header, then a ("bearer", <token>) subprotocol pair
func extractCredential(r *http.Request) (token string, viaSubprotocol bool) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, false
	}

	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):], false
	}

	protocols := websocket.Subprotocols(r)
	for i, proto := range protocols {
		if proto == bearerSubprotocol && i+1 < len(protocols) {
			return protocols[i+1], true
		}
	}

	return "", false
}

// backendURL rebuilds the request URL against the instance endpoint. The
// credential travels in the Authorization header, so the query form is
// dropped.
func backendURL(instance *types.ServiceInstance, r *http.Request) (string, error) {
	u, err := url.Parse(instance.URL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = r.URL.Path
	query := r.URL.Query()
	query.Del("token")
	u.RawQuery = query.Encode()

	return u.String(), nil
}
