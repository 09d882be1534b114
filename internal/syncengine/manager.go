package syncengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/model"
)

// Manager owns one session per portal type for the process.
type Manager struct {
	mu       sync.Mutex
	sessions map[model.PortalType]*Session
	started  []*Session
}

// NewManager builds a disconnected session for every portal type.
func NewManager(reader Reader, feed *changefeed.Client, logger *logrus.Logger, metrics *Metrics, opts Options) *Manager {
	m := &Manager{sessions: make(map[model.PortalType]*Session, len(model.Portals))}
	for _, p := range model.Portals {
		m.sessions[p] = NewSession(p, reader, feed, logger, metrics, opts)
	}
	return m
}

// Start starts every session. If one fails the sessions already started are
// stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range model.Portals {
		s := m.sessions[p]
		if err := s.Start(ctx); err != nil {
			m.stopLocked()
			return fmt.Errorf("start sessions: %w", err)
		}
		m.started = append(m.started, s)
	}
	return nil
}

// Session returns the session for p.
func (m *Manager) Session(p model.PortalType) (*Session, bool) {
	s, ok := m.sessions[p]
	return s, ok
}

// Statuses returns every session's status in portal order.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(model.Portals))
	for _, p := range model.Portals {
		out = append(out, m.sessions[p].Status())
	}
	return out
}

// Stop stops every started session.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	for _, s := range m.started {
		s.Stop()
	}
	m.started = nil
}
