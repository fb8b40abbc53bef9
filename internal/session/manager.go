package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Manager tracks the live sessions of an embedding host, keyed by session
// id.
type Manager struct {
	log      logrus.FieldLogger
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates an empty session manager.
func NewManager(log logrus.FieldLogger) *Manager {
	return &Manager{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create dials and registers a new session.
func (m *Manager) Create(ctx context.Context, dial DialFunc, opts Options) (*Session, error) {
	s, err := New(ctx, m.log, dial, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.Newf("session not found: %s", sessionID)
	}
	return s, nil
}

// CloseSession closes a session and removes it from the registry.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return errors.Newf("session not found: %s", sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return s.Close()
}

// List returns all registered sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Close closes every session.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.CloseSession(id); err != nil {
			m.log.WithError(err).WithField("session", id).Warn("error closing session")
		}
	}
	return nil
}
