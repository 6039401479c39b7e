package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Manager owns the live sessions.
type Manager struct {
	clock clockwork.Clock
	idle  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager that forgets sessions idle longer than idle.
func NewManager(idle time.Duration, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{clock: clock, idle: idle, sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it if needed.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = New(id, m.clock)
		m.sessions[id] = s
	}
	return s
}

// Lookup returns an existing session.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops idle sessions and returns how many were removed. Sessions
// with a request in flight are never idle.
func (m *Manager) Sweep() int {
	cutoff := m.clock.Now().Add(-m.idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			s.Reset()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.Sweep(); n > 0 {
				zap.L().Debug("session: swept idle sessions", zap.Int("removed", n))
			}
		}
	}
}
