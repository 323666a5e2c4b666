package tunnel

import (
	"time"

	"github.com/gorilla/websocket"
)

// add registers a live session
func (p *Proxy) add(s *Session) {
	p.mu.Lock()
	p.sessions[s.ID] = s
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordTunnelOpened(s.ServiceName)
	}
}

// remove unregisters a session and closes whatever is still open
func (p *Proxy) remove(s *Session) {
	p.mu.Lock()
	_, present := p.sessions[s.ID]
	delete(p.sessions, s.ID)
	p.mu.Unlock()

	s.close()

	if !present {
		return
	}

	if p.metrics != nil {
		p.metrics.RecordTunnelClosed(s.ServiceName)
	}

	p.logger.Info("Tunnel session closed",
		"session_id", s.ID,
		"service", s.ServiceName,
		"duration", p.clock.Now().Sub(s.ConnectedAt),
	)
}

// snapshot copies the live session set so sweeps never hold the lock
// across network writes. A session may close mid-iteration; its control
// writes just fail quietly.
func (p *Proxy) snapshot() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Sessions returns a snapshot of the live sessions
func (p *Proxy) Sessions() []SessionInfo {
	sessions := p.snapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Count returns the number of live sessions
func (p *Proxy) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Start launches the liveness sweep
func (p *Proxy) Start() {
	go p.heartbeatLoop()
}

// Stop ends the sweep and closes every live session
func (p *Proxy) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	deadline := time.Now().Add(writeWait)
	for _, s := range p.snapshot() {
		_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		s.close()
	}
}

func (p *Proxy) heartbeatLoop() {
	ticker := p.clock.Ticker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

// sweep pings every live client and closes sessions that stayed idle
// beyond the configured timeout
func (p *Proxy) sweep() {
	now := p.clock.Now()
	deadline := time.Now().Add(writeWait)

	for _, s := range p.snapshot() {
		if s.idleFor(now) > p.config.IdleTimeout {
			p.logger.Info("Closing idle tunnel session",
				"session_id", s.ID,
				"service", s.ServiceName,
				"idle", s.idleFor(now),
			)
			_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "idle timeout"), deadline)
			s.close()
			continue
		}

		_ = s.client.WriteControl(websocket.PingMessage, nil, deadline)
	}
}
