package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/responder"
)

// Manager holds the sessions of the process, keyed by id.
type Manager struct {
	cache map[string]*Session
	mu    sync.RWMutex
	now   func() time.Time
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		cache: make(map[string]*Session),
		now:   time.Now,
	}
}

// Create initializes a fresh session under id, replacing any existing one.
// An empty id gets a generated one. A non-empty welcome is seeded as the
// first assistant message.
func (m *Manager) Create(id string, profile responder.Profile, welcome string) *Session {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	s := newSession(id, profile, m.now())
	if w := strings.TrimSpace(welcome); w != "" {
		s.AddMessage(RoleAssistant, w)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[id] = s
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.cache[id]
	return s, ok
}

// GetOrCreate returns an existing session or creates a new one. The second
// result reports whether the session was created.
func (m *Manager) GetOrCreate(id string, profile responder.Profile, welcome string) (*Session, bool) {
	m.mu.Lock()
	if s, ok := m.cache[id]; ok {
		m.mu.Unlock()
		return s, false
	}
	s := newSession(id, profile, m.now())
	if w := strings.TrimSpace(welcome); w != "" {
		s.AddMessage(RoleAssistant, w)
	}
	m.cache[id] = s
	m.mu.Unlock()
	return s, true
}

// Reset discards history, mode, pending state and responders of the
// session while keeping its profile. Resetting twice is the same as once.
func (m *Manager) Reset(id string) (*Session, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	s.reset()
	return s, true
}

// UpdateProfile replaces the session profile. Constructed responders are
// dropped so the new profile applies on next use.
func (m *Manager) UpdateProfile(id string, profile responder.Profile) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.setProfile(profile)
	return true
}

// SetStep updates the negotiation step hint and drops constructed responders.
func (m *Manager) SetStep(id, step string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.setStep(step)
	return true
}

// Delete removes a session.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[id]; !ok {
		return false
	}
	delete(m.cache, id)
	return true
}

// SessionInfo contains metadata about a session.
type SessionInfo struct {
	ID            string    `json:"session_id"`
	Mode          mode.Mode `json:"mode"`
	ModeConfirmed bool      `json:"mode_confirmed"`
	Messages      int       `json:"messages"`
	InFlight      bool      `json:"in_flight"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// List returns information about all sessions, most recently active first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.cache))
	for _, s := range m.cache {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		md, confirmed := s.Mode()
		out = append(out, SessionInfo{
			ID:            s.ID,
			Mode:          md,
			ModeConfirmed: confirmed,
			Messages:      s.Len(),
			InFlight:      s.InFlight(),
			UpdatedAt:     s.UpdatedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// EvictIdle removes sessions idle for longer than maxIdle. Sessions with a
// turn in flight are kept. It returns the number of evicted sessions.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.cache {
		if s.InFlight() || s.UpdatedAt().After(cutoff) {
			continue
		}
		delete(m.cache, id)
		n++
	}
	return n
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}
