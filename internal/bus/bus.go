// Package bus provides the async message bus between chat channels, the
// relay and the turn-record consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InboundMessage represents a message from a channel to the relay.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	TraceID   string            `json:"trace_id"`
	Content   string            `json:"content"`
	Profile   map[string]string `json:"profile,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionKey maps the message onto a session id.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a reply from the relay to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	TraceID string `json:"trace_id"`
	Content string `json:"content"`
	// Mode is set when the reply was produced after a mode change.
	Mode string `json:"mode,omitempty"`
	// Error marks replies that carry an error message.
	Error bool `json:"error,omitempty"`
}

// TurnRecord is the audit record of one orchestrator turn.
type TurnRecord struct {
	TraceID       string    `json:"trace_id"`
	SessionID     string    `json:"session_id"`
	Kind          string    `json:"kind"`
	Mode          string    `json:"mode"`
	PrevMode      string    `json:"prev_mode"`
	Classified    string    `json:"classified,omitempty"`
	Confidence    float64   `json:"confidence"`
	Degraded      bool      `json:"degraded"`
	Cancelled     bool      `json:"cancelled"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
}

// MessageBus decouples channels from the orchestrator core.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	turns    chan *TurnRecord
	subs     map[string][]func(*OutboundMessage)
	turnSubs []func(*TurnRecord)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		turns:    make(chan *TurnRecord, 256),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the relay.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a message from the relay to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// RecordTurn queues a turn record for the turn subscribers. It never
// blocks: records are dropped with a warning when the queue is full.
func (b *MessageBus) RecordTurn(rec *TurnRecord) {
	select {
	case b.turns <- rec:
	default:
		slog.Warn("Turn record dropped, queue full", "session", rec.SessionID, "trace", rec.TraceID)
	}
}

// SubscribeTurns registers a callback for every turn record.
func (b *MessageBus) SubscribeTurns(callback func(*TurnRecord)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turnSubs = append(b.turnSubs, callback)
}

// DispatchTurns fans turn records out to subscribers.
// This should be run as a goroutine.
func (b *MessageBus) DispatchTurns(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-b.turns:
			b.mu.RLock()
			callbacks := b.turnSubs
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(rec)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}

// TurnQueueSize returns the number of pending turn records.
func (b *MessageBus) TurnQueueSize() int {
	return len(b.turns)
}
