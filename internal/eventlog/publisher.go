// Package eventlog publishes orchestrator turn records to Kafka.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/tenka/internal/bus"
)

// EnvelopeType identifies turn records on the topic.
const EnvelopeType = "tenka.turn.v1"

// Envelope is the message value written to Kafka.
type Envelope struct {
	Type string          `json:"type"`
	Turn *bus.TurnRecord `json:"turn"`
}

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes turn records keyed by session id, so the records of one
// session stay ordered within a partition.
type Publisher struct {
	w       Writer
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(brokers, topic string, batchTimeout time.Duration) (*Publisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}
	if batchTimeout <= 0 {
		batchTimeout = 200 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewPublisher(w), nil
}

// NewPublisher wraps an existing writer.
func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w, timeout: 10 * time.Second}
}

// Publish writes one turn record.
func (p *Publisher) Publish(ctx context.Context, rec *bus.TurnRecord) error {
	value, err := json.Marshal(Envelope{Type: EnvelopeType, Turn: rec})
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	ts := rec.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EnvelopeType)},
			{Key: "trace_id", Value: []byte(rec.TraceID)},
			{Key: "kind", Value: []byte(rec.Kind)},
		},
		Time: ts,
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// RecordTurn publishes rec and logs failures. It is meant as a bus turn
// subscriber.
func (p *Publisher) RecordTurn(rec *bus.TurnRecord) {
	if err := p.Publish(context.Background(), rec); err != nil {
		slog.Warn("Turn record publish failed", "session", rec.SessionID, "trace", rec.TraceID, "error", err)
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Decode parses a message value written by Publish.
func Decode(value []byte) (*bus.TurnRecord, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode turn: %w", err)
	}
	if env.Type != EnvelopeType || env.Turn == nil {
		return nil, fmt.Errorf("decode turn: unexpected envelope %q", env.Type)
	}
	return env.Turn, nil
}
