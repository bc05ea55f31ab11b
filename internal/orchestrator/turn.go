package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/session"
)

// Stream runs one turn for message and returns its event stream. The
// channel is closed when the turn is finalized. Callers must either drain
// the channel or cancel ctx; cancellation still persists partial output.
func (o *Orchestrator) Stream(ctx context.Context, sessionID, message string) (<-chan responder.Event, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	s, err := o.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.BeginTurn() {
		return nil, ErrTurnInProgress
	}
	gen := s.Generation()

	out := make(chan responder.Event, 16)
	go func() {
		defer close(out)
		defer s.EndTurn()
		t := &turn{
			o:   o,
			ctx: ctx,
			s:   s,
			gen: gen,
			msg: message,
			out: out,
		}
		t.run()
	}()
	return out, nil
}

// turn carries the state of one Stream call.
type turn struct {
	o   *Orchestrator
	ctx context.Context
	s   *session.Session
	gen uint64
	msg string
	out chan<- responder.Event
	rec bus.TurnRecord
}

func (t *turn) send(ev responder.Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *turn) run() {
	prev, _ := t.s.Mode()
	t.rec = bus.TurnRecord{
		TraceID:   uuid.NewString(),
		SessionID: t.s.ID,
		PrevMode:  string(prev),
		UserText:  t.msg,
		StartedAt: time.Now(),
	}
	defer t.finishRecord()

	if p := t.s.Pending(); p != nil {
		t.resolvePending(p)
		return
	}

	res, err := t.o.classifier.Classify(t.ctx, t.msg, t.o.renderHistory(t.s))
	if err != nil {
		if t.ctx.Err() != nil {
			t.rec.Kind = KindCancelled
			t.rec.Cancelled = true
			return
		}
		t.fail("Mode classification failed", err, "申し訳ありません。ご相談内容の判定中にエラーが発生しました。時間をおいて、もう一度お送りください。")
		return
	}
	t.rec.Classified = string(res.Mode)
	t.rec.Confidence = res.Confidence
	t.rec.Degraded = res.Degraded

	if res.Confidence < t.o.low {
		t.clarify(res)
		return
	}

	current, confirmed := t.s.Mode()
	var banner string
	if res.Mode != current {
		if !confirmed && t.o.policy == PolicyConsent {
			t.propose(res)
			return
		}
		if !t.s.SetMode(t.gen, res.Mode, true) {
			t.discard()
			return
		}
		t.o.logger.Info("Mode switched", "session", t.s.ID, "from", current.String(), "to", res.Mode.String(), "confidence", res.Confidence)
		if !t.send(responder.ModeChanged(res.Mode, res.Reason, res.Confidence)) {
			t.rec.Kind = KindCancelled
			t.rec.Cancelled = true
			return
		}
		if !confirmed {
			banner = t.o.catalog.Banner(res.Mode) + "\n\n"
		}
	}
	t.delegate(res.Mode, banner)
}

// resolvePending judges the reply to an outstanding proposal. The
// responder is never invoked in this turn.
func (t *turn) resolvePending(p *session.PendingModeChange) {
	c, err := t.o.judge.Judge(t.ctx, t.msg, p.Proposal)
	if err != nil {
		if t.ctx.Err() != nil {
			t.rec.Kind = KindCancelled
			t.rec.Cancelled = true
			return
		}
		t.fail("Consent judgment failed", err, "申し訳ありません。ご回答の確認中にエラーが発生しました。もう一度「はい」または「いいえ」でお答えください。")
		return
	}
	t.rec.Degraded = c.Degraded

	switch c.Verdict {
	case classifier.VerdictConsent:
		if !t.s.SetMode(t.gen, p.Mode, true) || !t.s.SetPending(t.gen, nil) {
			t.discard()
			return
		}
		text := fmt.Sprintf("承知しました。「%s」モードに切り替えました。ご相談内容を詳しくお聞かせください。", t.o.catalog.Title(p.Mode))
		t.rec.Kind = KindConsent
		if !t.exchange(text) {
			return
		}
		t.o.logger.Info("Mode switch accepted", "session", t.s.ID, "mode", p.Mode.String())
		if t.send(responder.ModeChanged(p.Mode, p.Reason, p.Confidence)) {
			t.send(responder.TextDelta(text))
		}
	case classifier.VerdictRejection:
		if !t.s.SetPending(t.gen, nil) {
			t.discard()
			return
		}
		text := "承知しました。モードは切り替えずに進めます。ほかにご相談したいことがあれば、お気軽にお聞かせください。"
		t.rec.Kind = KindRejection
		if !t.exchange(text) {
			return
		}
		t.o.logger.Info("Mode switch rejected", "session", t.s.ID, "proposed", p.Mode.String())
		t.send(responder.TextDelta(text))
	default:
		text := "恐れ入ります、切り替えてよろしいかどうかを「はい」か「いいえ」でお答えください。\n\n" + p.Proposal
		t.rec.Kind = KindUnclear
		if t.exchange(text) {
			t.send(responder.TextDelta(text))
		}
	}
}

func (t *turn) clarify(res classifier.Result) {
	text := strings.TrimSpace(res.Clarification)
	if text == "" {
		if t.s.CountRole(session.RoleUser) == 0 {
			text = "ご相談ありがとうございます。どのようなことでお困りか、もう少し詳しく教えていただけますか？（例: 資金繰り、人材採用、取引先への値上げ交渉 など）"
		} else {
			text = "恐れ入ります、ご相談の趣旨をもう少し具体的に教えていただけますか？経営全般のご相談か、価格転嫁・値上げ交渉のご相談かをお知らせいただけると助かります。"
		}
	}
	t.rec.Kind = KindClarification
	if t.exchange(text) {
		t.send(responder.TextDelta(text))
	}
}

func (t *turn) propose(res classifier.Result) {
	proposal := t.o.catalog.Proposal(res.Mode, res.Reason)
	stored := t.s.SetPending(t.gen, &session.PendingModeChange{
		Mode:       res.Mode,
		Reason:     res.Reason,
		Confidence: res.Confidence,
		Proposal:   proposal,
	})
	if !stored {
		t.discard()
		return
	}
	t.rec.Kind = KindProposal
	if !t.exchange(proposal) {
		return
	}
	t.o.logger.Info("Mode switch proposed", "session", t.s.ID, "mode", res.Mode.String(), "confidence", res.Confidence)
	t.send(responder.TextDelta(proposal))
}

// delegate hands the message to the responder of m and finalizes history
// once its stream ends, whether completed or cancelled.
func (t *turn) delegate(m mode.Mode, prefix string) {
	t.rec.Kind = KindDelegated
	// Prior user messages count the replies this orchestrator produced; a
	// seeded welcome message is not one of them.
	turnIndex := t.s.CountRole(session.RoleUser)
	if !t.s.Append(t.gen, session.Message{Role: session.RoleUser, Content: t.msg}) {
		t.discard()
		return
	}

	r := t.s.Responder(m, func() responder.Responder {
		f, ok := t.o.factories[m]
		if !ok {
			return responder.NewFailed(fmt.Errorf("no responder for mode %s", m), "")
		}
		return f(responder.FactoryInput{Profile: t.s.Profile(), Step: t.s.Step()})
	})
	if _, failed := r.(*responder.Failed); failed {
		// A later turn gets a fresh construction attempt.
		t.s.DropResponder(m)
	}

	var acc strings.Builder
	var errText string
	acc.WriteString(prefix)
	defer func() {
		text := responder.CleanDisplayText(acc.String())
		switch {
		case text == "" && errText != "":
			text = errText
		case text == "" && t.ctx.Err() != nil:
			text = "（応答は中断されました）"
		case text == "":
			text = "（応答を生成できませんでした）"
		}
		t.rec.AssistantText = text
		if t.ctx.Err() != nil {
			t.rec.Kind = KindCancelled
			t.rec.Cancelled = true
		}
		if !t.s.Append(t.gen, session.Message{Role: session.RoleAssistant, Content: text}) {
			t.discard()
		}
	}()

	if prefix != "" && !t.send(responder.TextDelta(prefix)) {
		return
	}

	req := responder.Request{
		Message:   t.msg,
		Profile:   t.s.Profile(),
		TurnIndex: turnIndex,
		Step:      t.s.Step(),
	}
	forwarding := true
	for ev := range r.Stream(t.ctx, req) {
		switch ev.Type {
		case responder.TypeTextDelta:
			acc.WriteString(ev.Text)
		case responder.TypeError:
			if errText == "" {
				errText = ev.Error
				t.rec.Error = ev.Error
			}
		}
		// Keep draining after cancellation so the responder can finish.
		if forwarding && !t.send(ev) {
			forwarding = false
		}
	}
}

// exchange appends the user message and an orchestrator-authored reply.
// It returns false when the session was reset during the turn.
func (t *turn) exchange(reply string) bool {
	if !t.s.Append(t.gen,
		session.Message{Role: session.RoleUser, Content: t.msg},
		session.Message{Role: session.RoleAssistant, Content: reply},
	) {
		t.discard()
		return false
	}
	t.rec.AssistantText = reply
	return true
}

// discard ends a turn whose session was reset while it ran. Nothing more
// is written to the session.
func (t *turn) discard() {
	t.o.logger.Info("Session reset during turn, result discarded", "session", t.s.ID)
	t.rec.Kind = KindDiscarded
}

// fail reports a hard failure. History is left untouched so the user can
// simply resend.
func (t *turn) fail(logMsg string, err error, userMsg string) {
	t.o.logger.Error(logMsg, "session", t.s.ID, "error", err, "unavailable", errors.Is(err, classifier.ErrUnavailable))
	t.rec.Kind = KindError
	t.rec.Error = err.Error()
	t.send(responder.ErrorEvent(userMsg))
}

func (t *turn) finishRecord() {
	if t.o.recorder == nil {
		return
	}
	m, _ := t.s.Mode()
	t.rec.Mode = string(m)
	t.rec.DurationMs = time.Since(t.rec.StartedAt).Milliseconds()
	rec := t.rec
	t.o.recorder.RecordTurn(&rec)
}

// renderHistory formats the recent exchange for the classifier, newest
// last, each message capped in length.
func (o *Orchestrator) renderHistory(s *session.Session) string {
	msgs := s.GetHistory(o.histMsgs)
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := "ユーザー"
		if m.Role == session.RoleAssistant {
			label = "アシスタント"
		}
		content := strings.Join(strings.Fields(m.Content), " ")
		if r := []rune(content); len(r) > o.histChars {
			content = string(r[:o.histChars]) + "…"
		}
		lines = append(lines, label+": "+content)
	}
	return strings.Join(lines, "\n")
}
