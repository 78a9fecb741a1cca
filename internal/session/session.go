// Package session keeps the portal sessions of connected browsers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/portal"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrNoSession is returned for unknown or expired session ids.
var ErrNoSession = errors.New("session: not found")

// Factory builds the machine for a new session around its auth state.
type Factory func(sess *auth.Session) *portal.Machine

// Entry is one browser session.
type Entry struct {
	ID      string
	Auth    *auth.Session
	Machine *portal.Machine

	lastSeen time.Time
}

// Manager maps session ids to entries and expires idle ones.
type Manager struct {
	provider auth.Provider
	factory  Factory
	idle     time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Entry

	ticker   *time.Ticker
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager returns an empty Manager. Sessions idle for longer than
// idle are destroyed by the sweeper once Start is called.
func NewManager(provider auth.Provider, factory Factory, idle time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		provider: provider,
		factory:  factory,
		idle:     idle,
		log:      log,
		now:      time.Now,
		sessions: map[string]*Entry{},
	}
}

// Create starts a session and mounts its machine.
func (m *Manager) Create(ctx context.Context) (*Entry, portal.View) {
	sess := auth.NewSession(m.provider)
	e := &Entry{
		ID:       ulid.Make().String(),
		Auth:     sess,
		Machine:  m.factory(sess),
		lastSeen: m.now(),
	}
	v := e.Machine.Mount(ctx)

	m.mu.Lock()
	m.sessions[e.ID] = e
	n := len(m.sessions)
	m.mu.Unlock()

	m.log.Debug("session created", zap.String("sid", e.ID), zap.Int("active", n))
	return e, v
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	e.lastSeen = m.now()
	return e, nil
}

// Destroy closes the session's machine and forgets it.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		e.Machine.Close()
		m.log.Debug("session destroyed", zap.String("sid", id))
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start runs the sweeper every interval until Stop is called.
func (m *Manager) Start(interval time.Duration) {
	m.ticker = time.NewTicker(interval)
	m.quit = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		for {
			select {
			case <-m.ticker.C:
				m.Sweep()
			case <-m.quit:
				m.ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the sweeper and destroys every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.quit != nil {
			close(m.quit)
			<-m.done
		}
		m.mu.Lock()
		ids := make([]string, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		for _, id := range ids {
			m.Destroy(id)
		}
	})
}

// Sweep destroys sessions idle for longer than the idle timeout.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)
	m.mu.Lock()
	var expired []string
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range expired {
		if m.expire(id, cutoff) {
			n++
		}
	}
	if n > 0 {
		m.log.Info("expired idle sessions", zap.Int("count", n))
	}
	return n
}

// expire destroys the session if it has not been used since cutoff.
// A Get between the scan and this call keeps the session alive.
func (m *Manager) expire(id string, cutoff time.Time) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok || !e.lastSeen.Before(cutoff) {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	e.Machine.Close()
	m.log.Debug("session destroyed", zap.String("sid", id))
	return true
}
