package session

import (
	"call-assistant/internal/observability"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrSessionExists  = errors.New("call session already exists")
	ErrMissingCallSID = errors.New("media stream start has no call sid")
	ErrRecognizerLost = errors.New("speech recognition stream closed unexpectedly")
)

// Manager is the registry of live call sessions, keyed by call sid
type Manager struct {
	deps   Dependencies
	cfg    Config
	logger *observability.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Dependencies, cfg Config, logger *observability.Logger) *Manager {
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// NewSession starts an actor for a freshly upgraded media stream. The
// session joins the registry when its start event arrives.
func (m *Manager) NewSession(conn Conn) *Session {
	return newSession(m, conn)
}

// Get returns the live session for a call
func (m *Manager) Get(callSID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSID]
	return s, ok
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every live session and waits for them to shut down
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
	}
	for _, s := range sessions {
		s.Wait()
	}
}

func (m *Manager) register(callSID string, s *Session) error {
	m.mu.Lock()
	if _, exists := m.sessions[callSID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionExists, callSID)
	}
	m.sessions[callSID] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Metrics(s.logCtx, observability.MetricField{Key: "active_sessions", Value: active})
	return nil
}

func (m *Manager) remove(callSID string, s *Session) {
	m.mu.Lock()
	if current, ok := m.sessions[callSID]; ok && current == s {
		delete(m.sessions, callSID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Metrics(s.logCtx, observability.MetricField{Key: "active_sessions", Value: active})
}
