package usecase

import (
	"sync"
	"time"

	"guidebot/internal/domain"
)

// SessionManager holds per-user conversation sessions in memory. A single
// user's messages are processed sequentially, so sessions need no internal
// locking beyond the map itself.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*domain.Session)}
}

// GetOrCreate returns the session for a user, creating an empty one on first
// contact.
func (m *SessionManager) GetOrCreate(userID string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := &domain.Session{UserID: userID, State: domain.Idle()}
	m.sessions[userID] = s
	return s
}

// Get returns the session for a user, or ErrSessionNotFound.
func (m *SessionManager) Get(userID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a user's session.
func (m *SessionManager) Delete(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// ReapStale drops sessions idle longer than timeout. Lazy housekeeping; no
// background timer ever triggers a turn.
func (m *SessionManager) ReapStale(timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for id, s := range m.sessions {
		if s.Expired(timeout) {
			delete(m.sessions, id)
			reaped++
		}
	}
	return reaped
}
