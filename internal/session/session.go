// Package session provides in-memory conversation session management.
package session

import (
	"sync"
	"time"

	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/responder"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PendingModeChange is a proposed mode switch awaiting the user's answer.
type PendingModeChange struct {
	Mode       mode.Mode `json:"mode"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Proposal   string    `json:"proposal"`
}

// Session represents one conversation. All accessors are safe for
// concurrent use; BeginTurn enforces a single in-flight turn.
type Session struct {
	ID string

	mu            sync.RWMutex
	mode          mode.Mode
	modeConfirmed bool
	messages      []Message
	pending       *PendingModeChange
	profile       responder.Profile
	step          string
	generation    uint64
	inFlight      bool
	responders    map[mode.Mode]responder.Responder
	createdAt     time.Time
	updatedAt     time.Time
}

func newSession(id string, profile responder.Profile, now time.Time) *Session {
	return &Session{
		ID:         id,
		messages:   []Message{},
		profile:    profile.Clone(),
		responders: make(map[mode.Mode]responder.Responder),
		createdAt:  now,
		updatedAt:  now,
	}
}

// Mode returns the current mode and whether it was confirmed.
func (s *Session) Mode() (mode.Mode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.modeConfirmed
}

// SetMode sets the current mode if the session has not been reset since
// gen was read. It reports whether the mode was stored.
func (s *Session) SetMode(gen uint64, m mode.Mode, confirmed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.mode = m
	s.modeConfirmed = confirmed
	s.updatedAt = time.Now()
	return true
}

// Pending returns a copy of the pending mode change, or nil.
func (s *Session) Pending() *PendingModeChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// SetPending records a proposed mode change under the same generation rule
// as SetMode. nil clears it.
func (s *Session) SetPending(gen uint64, p *PendingModeChange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	if p != nil {
		cp := *p
		p = &cp
	}
	s.pending = p
	s.updatedAt = time.Now()
	return true
}

// Profile returns a copy of the session profile.
func (s *Session) Profile() responder.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Step returns the negotiation step hint.
func (s *Session) Step() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Generation changes every time the session is reset. Writers that
// captured an older generation are ignored by Append, SetMode and SetPending.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// AddMessage adds a message to the session.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Message{Role: role, Content: content})
}

// Append adds messages if the session has not been reset since gen was
// read. It reports whether the messages were stored.
func (s *Session) Append(gen uint64, msgs ...Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	for _, m := range msgs {
		s.appendLocked(m)
	}
	return true
}

func (s *Session) appendLocked(m Message) {
	now := time.Now()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	s.messages = append(s.messages, m)
	s.updatedAt = now
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []Message {
	return s.GetHistory(0)
}

// GetHistory returns the most recent maxMessages messages; 0 means all.
func (s *Session) GetHistory(maxMessages int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if maxMessages > 0 && len(s.messages) > maxMessages {
		start = len(s.messages) - maxMessages
	}
	result := make([]Message, len(s.messages)-start)
	copy(result, s.messages[start:])
	return result
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CountRole returns how many messages have role.
func (s *Session) CountRole(role string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Responder returns the responder bound to m, constructing it with build
// on first use.
func (s *Session) Responder(m mode.Mode, build func() responder.Responder) responder.Responder {
	s.mu.Lock()
	if r, ok := s.responders[m]; ok {
		s.mu.Unlock()
		return r
	}
	s.mu.Unlock()

	// Construction may resolve providers; keep it outside the lock.
	r := build()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.responders[m]; ok {
		return existing
	}
	s.responders[m] = r
	return r
}

// DropResponder discards the responder bound to m.
func (s *Session) DropResponder(m mode.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responders, m)
}

// BeginTurn marks a turn in flight. It returns false if one already is.
func (s *Session) BeginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// EndTurn clears the in-flight mark.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.updatedAt = time.Now()
}

// InFlight reports whether a turn is running.
func (s *Session) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// UpdatedAt returns the last activity time.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Snapshot is a point-in-time copy of a session for replay and display.
type Snapshot struct {
	ID            string             `json:"session_id"`
	Mode          mode.Mode          `json:"mode"`
	ModeConfirmed bool               `json:"mode_confirmed"`
	Messages      []Message          `json:"messages"`
	Pending       *PendingModeChange `json:"pending,omitempty"`
	Profile       responder.Profile  `json:"profile,omitempty"`
	Step          string             `json:"step,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:            s.ID,
		Mode:          s.mode,
		ModeConfirmed: s.modeConfirmed,
		Messages:      append([]Message{}, s.messages...),
		Profile:       s.profile.Clone(),
		Step:          s.step,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	return snap
}

// reset re-creates the record in place. The profile and step survive.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode.Unset
	s.modeConfirmed = false
	s.messages = []Message{}
	s.pending = nil
	s.responders = make(map[mode.Mode]responder.Responder)
	s.generation++
	s.updatedAt = time.Now()
}

func (s *Session) setProfile(p responder.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p.Clone()
	s.responders = make(map[mode.Mode]responder.Responder)
	s.updatedAt = time.Now()
}

func (s *Session) setStep(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = step
	s.responders = make(map[mode.Mode]responder.Responder)
	s.updatedAt = time.Now()
}
