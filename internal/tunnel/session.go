package tunnel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one live duplex relay between a client and a backend instance
type Session struct {
	ID          string
	ServiceName string
	UserID      string
	ConnectedAt time.Time

	client  *websocket.Conn
	backend *websocket.Conn

	lastActivity int64 // unix nanoseconds of the most recent frame
	closeOnce    sync.Once
}

func newSession(serviceName, userID string, client, backend *websocket.Conn, now time.Time) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ServiceName: serviceName,
		UserID:      userID,
		ConnectedAt: now,
		client:      client,
		backend:     backend,
	}
	s.touch(now)
	return s
}

func (s *Session) touch(now time.Time) {
	atomic.StoreInt64(&s.lastActivity, now.UnixNano())
}

// LastActivity returns the time of the most recent frame in either direction
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// close tears down both sockets. Safe to call from any goroutine, repeatedly;
// the relay loops unblock once their socket is closed.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.client.Close()
		_ = s.backend.Close()
	})
}

// SessionInfo is a read-only snapshot of a live session
type SessionInfo struct {
	ID           string    `json:"id"`
	ServiceName  string    `json:"service_name"`
	UserID       string    `json:"user_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		ServiceName:  s.ServiceName,
		UserID:       s.UserID,
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.LastActivity(),
	}
}
