package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vjranagit/bouncedash/pkg/client"
	"github.com/vjranagit/bouncedash/pkg/events"
	"github.com/vjranagit/bouncedash/pkg/storage"
)

// ErrSessionNotFound is returned for unknown session keys
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps one controller per open dashboard page
type Manager struct {
	cfg     Config
	fetcher client.Fetcher
	store   storage.SnapshotStore
	bus     *events.Bus
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
	closed   bool
}

// NewManager creates a session manager sharing one fetcher, store and bus
func NewManager(cfg Config, fetcher client.Fetcher, store storage.SnapshotStore, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		bus:      bus,
		log:      log,
		sessions: make(map[string]*Controller),
	}
}

// Create opens a new session
func (m *Manager) Create() (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("manager closed")
	}

	id := uuid.New().String()
	ctrl := NewController(id, m.cfg, m.fetcher, m.store, m.bus, m.log)
	m.sessions[id] = ctrl

	m.log.Info().Str("session", id).Int("open_sessions", len(m.sessions)).Msg("Session created")
	return ctrl, nil
}

// Get looks up a session and marks it as in use
func (m *Manager) Get(id string) (*Controller, error) {
	// Touch under the read lock so Sweep cannot reap a session mid-lookup
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	ctrl.Touch()
	return ctrl, nil
}

// Remove closes a session and drops its snapshot
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	ctrl, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.release(ctrl)
	return nil
}

// Sweep removes every session idle for at least SessionIdleTimeout at now
// and returns how many were removed
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.SessionIdleTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	var idle []*Controller
	for id, ctrl := range m.sessions {
		if ctrl.idleAt(now, m.cfg.SessionIdleTimeout) {
			idle = append(idle, ctrl)
			delete(m.sessions, id)
		}
	}
	open := len(m.sessions)
	m.mu.Unlock()

	for _, ctrl := range idle {
		m.release(ctrl)
	}
	if len(idle) > 0 {
		m.log.Info().Int("reaped", len(idle)).Int("open_sessions", open).Msg("Idle sessions removed")
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.cfg.SessionIdleTimeout <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *Manager) release(ctrl *Controller) {
	ctrl.Close()
	if err := m.store.Delete(context.Background(), ctrl.Session()); err != nil {
		m.log.Warn().Err(err).Str("session", ctrl.Session()).Msg("Failed to drop session snapshot")
	}
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.closed = true
	m.mu.Unlock()

	for _, ctrl := range sessions {
		ctrl.Close()
	}
}
