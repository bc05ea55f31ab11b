package orchestrator

import (
	"context"
	"errors"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/classifier"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTurnInProgress is returned when a session already has a turn in flight.
	ErrTurnInProgress = errors.New("turn already in progress")
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("empty message")
	// ErrInvalidStep is returned by UpdateStep for unknown step identifiers.
	ErrInvalidStep = errors.New("invalid step")
)

// Policy selects how an unconfirmed mode change is handled.
type Policy string

const (
	// PolicyConsent proposes the switch and waits for the user's answer.
	PolicyConsent Policy = "consent"
	// PolicySilent switches immediately and announces the new mode.
	PolicySilent Policy = "silent"
)

// Turn kinds recorded for every Stream call.
const (
	KindDelegated     = "delegated"
	KindClarification = "clarification"
	KindProposal      = "proposal"
	KindConsent       = "consent"
	KindRejection     = "rejection"
	KindUnclear       = "unclear"
	KindError         = "error"
	KindCancelled     = "cancelled"
	// KindDiscarded marks a turn whose session was reset before it finished.
	KindDiscarded = "discarded"
)

// ModeClassifier assigns a message to a mode.
type ModeClassifier interface {
	Classify(ctx context.Context, utterance, history string) (classifier.Result, error)
}

// Recorder receives one record per turn.
type Recorder interface {
	RecordTurn(rec *bus.TurnRecord)
}
