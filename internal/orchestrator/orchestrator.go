// Package orchestrator routes each user message to the responder of the
// right conversation mode. It owns the clarification and consent dialogue
// and keeps session history consistent across streaming turns.
package orchestrator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/session"
)

// Options configures an Orchestrator.
type Options struct {
	Sessions     *session.Manager
	Classifier   ModeClassifier
	ConsentJudge classifier.ConsentJudge
	Catalog      *mode.Catalog
	Factories    map[mode.Mode]responder.Factory
	Policy       Policy
	// LowThreshold is the confidence below which the user is asked to clarify.
	LowThreshold float64
	// HistoryMessages and HistoryMessageChars bound the classifier context.
	HistoryMessages     int
	HistoryMessageChars int
	Recorder            Recorder
	// Welcome is seeded into new sessions when non-empty.
	Welcome string
	Logger  *slog.Logger
}

// Orchestrator is the mode-routing core.
type Orchestrator struct {
	sessions   *session.Manager
	classifier ModeClassifier
	judge      classifier.ConsentJudge
	catalog    *mode.Catalog
	factories  map[mode.Mode]responder.Factory
	policy     Policy
	low        float64
	histMsgs   int
	histChars  int
	recorder   Recorder
	welcome    string
	logger     *slog.Logger
}

// New creates an Orchestrator, filling unset options with defaults.
func New(opts Options) *Orchestrator {
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager()
	}
	if opts.Catalog == nil {
		opts.Catalog = mode.DefaultCatalog()
	}
	if opts.ConsentJudge == nil {
		opts.ConsentJudge = classifier.KeywordJudge{}
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(nil, opts.Catalog, classifier.Options{})
	}
	if opts.Policy != PolicySilent {
		opts.Policy = PolicyConsent
	}
	if opts.LowThreshold <= 0 || opts.LowThreshold > 1 {
		opts.LowThreshold = 0.35
	}
	if opts.HistoryMessages <= 0 {
		opts.HistoryMessages = 6
	}
	if opts.HistoryMessageChars <= 0 {
		opts.HistoryMessageChars = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	factories := make(map[mode.Mode]responder.Factory, len(opts.Factories))
	for m, f := range opts.Factories {
		factories[m] = f
	}
	return &Orchestrator{
		sessions:   opts.Sessions,
		classifier: opts.Classifier,
		judge:      opts.ConsentJudge,
		catalog:    opts.Catalog,
		factories:  factories,
		policy:     opts.Policy,
		low:        opts.LowThreshold,
		histMsgs:   opts.HistoryMessages,
		histChars:  opts.HistoryMessageChars,
		recorder:   opts.Recorder,
		welcome:    opts.Welcome,
		logger:     opts.Logger,
	}
}

// Catalog returns the mode catalog.
func (o *Orchestrator) Catalog() *mode.Catalog { return o.catalog }

// Sessions returns the session manager.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// CreateSession starts a fresh session. An empty id is generated.
func (o *Orchestrator) CreateSession(id string, profile responder.Profile) *session.Session {
	s := o.sessions.Create(id, profile, o.welcome)
	o.logger.Info("Session created", "session", s.ID)
	return s
}

// GetOrCreateSession returns the session with id, creating it on first contact.
func (o *Orchestrator) GetOrCreateSession(id string, profile responder.Profile) *session.Session {
	s, created := o.sessions.GetOrCreate(id, profile, o.welcome)
	if created {
		o.logger.Info("Session created", "session", s.ID)
	}
	return s
}

// GetSession returns the session with id.
func (o *Orchestrator) GetSession(id string) (*session.Session, error) {
	s, ok := o.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetMessages returns the ordered history of a session.
func (o *Orchestrator) GetMessages(id string) ([]session.Message, error) {
	s, err := o.GetSession(id)
	if err != nil {
		return nil, err
	}
	return s.Messages(), nil
}

// ResetSession clears history, mode and pending state, keeping the profile.
func (o *Orchestrator) ResetSession(id string) (*session.Session, error) {
	s, ok := o.sessions.Reset(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	o.logger.Info("Session reset", "session", id)
	return s, nil
}

// DeleteSession removes a session. A session with a turn in flight is kept.
func (o *Orchestrator) DeleteSession(id string) error {
	s, err := o.GetSession(id)
	if err != nil {
		return err
	}
	if s.InFlight() {
		return ErrTurnInProgress
	}
	if !o.sessions.Delete(id) {
		return ErrSessionNotFound
	}
	o.logger.Info("Session deleted", "session", id)
	return nil
}

// UpdateStep sets the negotiation step hint applied to newly built responders.
func (o *Orchestrator) UpdateStep(id, step string) error {
	step = strings.TrimSpace(step)
	if !responder.ValidStep(step) {
		return ErrInvalidStep
	}
	if !o.sessions.SetStep(id, step) {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateProfile replaces the session profile.
func (o *Orchestrator) UpdateProfile(id string, profile responder.Profile) error {
	if !o.sessions.UpdateProfile(id, profile) {
		return ErrSessionNotFound
	}
	return nil
}

// AppendAssistantMessage stores assistant content produced outside a turn.
// Control tags are stripped; empty content is ignored.
func (o *Orchestrator) AppendAssistantMessage(id, content string) error {
	s, err := o.GetSession(id)
	if err != nil {
		return err
	}
	if text := responder.CleanDisplayText(content); text != "" {
		s.AddMessage(session.RoleAssistant, text)
	}
	return nil
}

// EvictIdle drops sessions idle for longer than ttl.
func (o *Orchestrator) EvictIdle(ttl time.Duration) int {
	n := o.sessions.EvictIdle(ttl)
	if n > 0 {
		o.logger.Info("Evicted idle sessions", "count", n)
	}
	return n
}
