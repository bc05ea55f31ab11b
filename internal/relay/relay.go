// Package relay drives the orchestrator from chat messages on the bus.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
)

// ResetCommand clears the conversation of the sending chat.
const ResetCommand = "/reset"

// Relay consumes inbound messages and answers each chat through the
// orchestrator. Messages of one chat are handled strictly in order, one
// turn at a time; different chats run concurrently.
type Relay struct {
	bus  *bus.MessageBus
	orch *orchestrator.Orchestrator

	mu     sync.Mutex
	queues map[string]chan *bus.InboundMessage
	wg     sync.WaitGroup

	// IdleTimeout stops a chat worker after this long without messages.
	IdleTimeout time.Duration
}

// New creates a relay.
func New(b *bus.MessageBus, o *orchestrator.Orchestrator) *Relay {
	return &Relay{
		bus:         b,
		orch:        o,
		queues:      make(map[string]chan *bus.InboundMessage),
		IdleTimeout: 5 * time.Minute,
	}
}

// Run consumes inbound messages until ctx is cancelled, then waits for
// in-flight turns to finish.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("Relay started")
	defer r.wg.Wait()

	for {
		msg, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to consume message", "error", err)
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		r.enqueue(ctx, msg)
	}
}

func (r *Relay) enqueue(ctx context.Context, msg *bus.InboundMessage) {
	key := msg.SessionKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[key]
	if !ok {
		q = make(chan *bus.InboundMessage, 32)
		r.queues[key] = q
		r.wg.Add(1)
		go r.worker(ctx, key, q)
	}
	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

func (r *Relay) worker(ctx context.Context, key string, q chan *bus.InboundMessage) {
	defer r.wg.Done()
	idle := time.NewTimer(r.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			r.handle(ctx, msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.IdleTimeout)
		case <-idle.C:
			r.mu.Lock()
			if len(q) == 0 {
				delete(r.queues, key)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			idle.Reset(r.IdleTimeout)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg *bus.InboundMessage) {
	s := r.orch.GetOrCreateSession(msg.SessionKey(), msg.Profile)
	reply := &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, TraceID: msg.TraceID}

	if strings.EqualFold(strings.TrimSpace(msg.Content), ResetCommand) {
		if _, err := r.orch.ResetSession(s.ID); err != nil {
			slog.Warn("Session reset failed", "session", s.ID, "error", err)
		}
		reply.Content = "会話をリセットしました。新しいご相談をどうぞ。"
		r.bus.PublishOutbound(reply)
		return
	}

	ch, err := r.orch.Stream(ctx, s.ID, msg.Content)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTurnInProgress) {
			reply.Content = "前のご質問に回答中です。少しお待ちください。"
		} else {
			slog.Error("Failed to start turn", "session", s.ID, "error", err)
			reply.Content = "申し訳ありません。メッセージを処理できませんでした。"
		}
		reply.Error = true
		r.bus.PublishOutbound(reply)
		return
	}

	var text strings.Builder
	var errText string
	for ev := range ch {
		switch ev.Type {
		case responder.TypeTextDelta:
			text.WriteString(ev.Text)
		case responder.TypeModeChanged:
			reply.Mode = string(ev.Mode)
		case responder.TypeError:
			if errText == "" {
				errText = ev.Error
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	reply.Content = responder.CleanDisplayText(text.String())
	if reply.Content == "" {
		if errText == "" {
			return
		}
		reply.Content = errText
		reply.Error = true
	}
	r.bus.PublishOutbound(reply)
}

// Workers returns the number of active chat workers.
func (r *Relay) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}
