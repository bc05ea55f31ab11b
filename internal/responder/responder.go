// Package responder defines the streaming responder abstraction and the
// responders bound to each conversation mode.
package responder

import (
	"context"
	"errors"
	"strings"
)

// Profile is caller-supplied context (industry, region, ...). Responders
// read it; nothing in the routing layer interprets it.
type Profile map[string]string

// Clone returns an independent copy.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Request is one turn handed to a responder.
type Request struct {
	Message string
	Profile Profile
	// TurnIndex counts earlier user turns in the session.
	TurnIndex int
	// Step is the current negotiation phase hint, if any.
	Step string
}

// Responder streams a reply to one message. The returned channel is closed
// at end of stream; cancelling ctx ends the stream early.
type Responder interface {
	Stream(ctx context.Context, req Request) <-chan Event
}

// FactoryInput carries the context a responder is constructed with.
type FactoryInput struct {
	Profile Profile
	Step    string
}

// Factory constructs a responder. Factories never fail: construction errors
// are reported through a Failed responder.
type Factory func(FactoryInput) Responder

// Run drains r and returns the concatenated text. An error event ends the
// run with an error carrying its message.
func Run(ctx context.Context, r Responder, req Request) (string, error) {
	var sb strings.Builder
	var runErr error
	for ev := range r.Stream(ctx, req) {
		switch ev.Type {
		case TypeTextDelta:
			sb.WriteString(ev.Text)
		case TypeError:
			if runErr == nil {
				runErr = errors.New(ev.Error)
			}
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}
	return sb.String(), runErr
}

// emitter sends events until ctx is done.
type emitter struct {
	ctx context.Context
	out chan<- Event
}

func (e emitter) send(ev Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}
