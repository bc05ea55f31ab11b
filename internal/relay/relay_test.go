package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
)

type stubClassifier struct {
	err error
}

func (s stubClassifier) Classify(context.Context, string, string) (classifier.Result, error) {
	if s.err != nil {
		return classifier.Result{}, s.err
	}
	return classifier.Result{Mode: mode.General, Reason: "general", Confidence: 0.9}, nil
}

func setup(t *testing.T, cls orchestrator.ModeClassifier) (*bus.MessageBus, *orchestrator.Orchestrator, <-chan *bus.OutboundMessage) {
	t.Helper()
	b := bus.NewMessageBus()
	o := orchestrator.New(orchestrator.Options{
		Classifier: cls,
		Factories:  map[mode.Mode]responder.Factory{mode.General: responder.GeneralFactory()},
		Policy:     orchestrator.PolicySilent,
	})
	out := make(chan *bus.OutboundMessage, 8)
	b.Subscribe("test", func(m *bus.OutboundMessage) { out <- m })

	ctx, cancel := context.WithCancel(context.Background())
	r := New(b, o)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	go b.DispatchOutbound(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, o, out
}

func next(t *testing.T, out <-chan *bus.OutboundMessage) *bus.OutboundMessage {
	t.Helper()
	select {
	case m := <-out:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no outbound message")
		return nil
	}
}

func TestRelayAnswersThroughOrchestrator(t *testing.T) {
	b, o, out := setup(t, stubClassifier{})
	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c1", TraceID: "tr1", Content: "資金繰りの相談です"})

	reply := next(t, out)
	if reply.ChatID != "c1" || reply.TraceID != "tr1" || reply.Error {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Mode != string(mode.General) {
		t.Errorf("mode = %q", reply.Mode)
	}
	if !strings.Contains(reply.Content, "「資金繰りの相談です」") {
		t.Errorf("content = %q", reply.Content)
	}

	msgs, err := o.GetMessages("test:c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("history len = %d", len(msgs))
	}
}

func TestRelayKeepsChatOrder(t *testing.T) {
	b, o, out := setup(t, stubClassifier{})
	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c1", Content: "一つ目"})
	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c1", Content: "二つ目"})

	first, second := next(t, out), next(t, out)
	if !strings.Contains(first.Content, "一つ目") || !strings.Contains(second.Content, "二つ目") {
		t.Fatalf("out of order: %q / %q", first.Content, second.Content)
	}
	if second.Mode != "" {
		t.Errorf("second turn should not change mode, got %q", second.Mode)
	}
	msgs, _ := o.GetMessages("test:c1")
	if len(msgs) != 4 {
		t.Errorf("history len = %d", len(msgs))
	}
}

func TestRelayReset(t *testing.T) {
	b, o, out := setup(t, stubClassifier{})
	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c1", Content: "相談"})
	next(t, out)

	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c1", Content: "/reset"})
	if reply := next(t, out); !strings.Contains(reply.Content, "リセット") {
		t.Errorf("reply = %q", reply.Content)
	}
	msgs, _ := o.GetMessages("test:c1")
	if len(msgs) != 0 {
		t.Errorf("history len = %d", len(msgs))
	}
}

func TestRelayReportsClassifierFailure(t *testing.T) {
	b, o, out := setup(t, stubClassifier{err: errors.New("down")})
	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c2", Content: "相談"})

	reply := next(t, out)
	if !reply.Error || reply.Content == "" {
		t.Errorf("reply = %+v", reply)
	}
	msgs, _ := o.GetMessages("test:c2")
	if len(msgs) != 0 {
		t.Errorf("history should be untouched, len = %d", len(msgs))
	}
}

func TestWorkerStopsWhenIdle(t *testing.T) {
	b := bus.NewMessageBus()
	o := orchestrator.New(orchestrator.Options{
		Classifier: stubClassifier{},
		Factories:  map[mode.Mode]responder.Factory{mode.General: responder.GeneralFactory()},
		Policy:     orchestrator.PolicySilent,
	})
	r := New(b, o)
	r.IdleTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	b.PublishInbound(&bus.InboundMessage{Channel: "test", ChatID: "c", Content: "hi"})
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := o.GetSession("test:c"); err == nil && r.Workers() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("worker still running, workers = %d", r.Workers())
}
