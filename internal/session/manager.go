package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
)

// Manager is the registry of live sessions. It feeds the active-session
// gauge and fans shutdown out to every client.
type Manager struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager(logger *slog.Logger, metrics *observe.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		logger:   logger.With("component", "session-manager"),
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and bumps the gauge.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	m.logger.Debug("session registered", "session_id", s.ID(), "active", n)
}

// Remove deregisters a session. Safe to call for unknown ids.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		m.logger.Debug("session deregistered", "session_id", id, "active", n)
	}
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session with a normal close code and waits for
// their pipeline goroutines to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("closing all sessions", "count", len(sessions))
	for _, s := range sessions {
		s.CloseWithStatus(protocol.CloseNormal, "server shutting down")
	}
	for _, s := range sessions {
		s.Wait()
		m.Remove(s.ID())
	}
}
