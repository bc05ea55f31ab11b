package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/KafClaw/tenka/internal/config"
)

// Verdict is the judgment of a reply to a mode-change proposal.
type Verdict string

const (
	VerdictConsent   Verdict = "consent"
	VerdictRejection Verdict = "rejection"
	VerdictUnclear   Verdict = "unclear"
)

// Consent is the result of judging a reply.
type Consent struct {
	Verdict  Verdict
	Reason   string
	Degraded bool
}

// ConsentJudge classifies a short reply against a displayed proposal.
type ConsentJudge interface {
	Judge(ctx context.Context, reply, proposal string) (Consent, error)
}

// NewJudge builds the judge selected by kind (llm, keyword or hybrid).
// Without a backend every kind falls back to keywords only.
func NewJudge(kind string, backend Backend) ConsentJudge {
	kw := KeywordJudge{}
	if backend == nil {
		return kw
	}
	switch kind {
	case config.JudgeKeyword:
		return kw
	case config.JudgeLLM:
		return &LLMJudge{Backend: backend}
	default:
		return &FallbackJudge{Primary: kw, Secondary: &LLMJudge{Backend: backend}}
	}
}

// ---------------------------------------------------------------------------
// LLM judge
// ---------------------------------------------------------------------------

// LLMJudge asks the backend for a verdict. Unparseable output is unclear.
type LLMJudge struct {
	Backend Backend
}

const consentSystemPrompt = "あなたは対話システムの同意判定係です。" +
	"システムが提示したモード切り替えの提案に対するユーザーの返答を読み、" +
	"verdict を 'consent'（同意）、'rejection'（拒否）、'unclear'（判断できない）のいずれか1つに分類してください。" +
	"出力は {\"verdict\": \"...\", \"reason\": \"...\"} のJSONのみ。"

// Judge implements ConsentJudge.
func (j *LLMJudge) Judge(ctx context.Context, reply, proposal string) (Consent, error) {
	if j == nil || j.Backend == nil {
		return Consent{}, fmt.Errorf("%w: no backend configured", ErrUnavailable)
	}
	user := fmt.Sprintf("提案:\n%s\n\nユーザーの返答:\n%s", proposal, reply)
	raw, err := j.Backend.Complete(ctx, consentSystemPrompt, user)
	if err != nil {
		return Consent{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c, err := ParseConsent(raw)
	if err != nil {
		slog.Warn("Consent judgment degraded", "error", err, "raw", truncate(raw, 200))
		return Consent{Verdict: VerdictUnclear, Reason: "malformed judge output", Degraded: true}, nil
	}
	return c, nil
}

// ParseConsent parses raw judge output. Errors wrap ErrMalformed.
func ParseConsent(raw string) (Consent, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Consent{}, err
	}
	v, _ := obj["verdict"].(string)
	switch Verdict(strings.ToLower(strings.TrimSpace(v))) {
	case VerdictConsent:
		return Consent{Verdict: VerdictConsent, Reason: stringField(obj, "reason")}, nil
	case VerdictRejection:
		return Consent{Verdict: VerdictRejection, Reason: stringField(obj, "reason")}, nil
	case VerdictUnclear:
		return Consent{Verdict: VerdictUnclear, Reason: stringField(obj, "reason")}, nil
	}
	return Consent{}, fmt.Errorf("%w: unknown verdict %q", ErrMalformed, v)
}

// ---------------------------------------------------------------------------
// Keyword judge
// ---------------------------------------------------------------------------

var (
	consentPhrases = []string{
		"はい", "ええ", "うん", "お願い", "切り替えて", "進めて", "いいです", "いいよ",
		"そうして", "了解", "承知", "よろしく", "ok", "okay", "yes", "yep", "sure", "please",
	}
	rejectionPhrases = []string{
		"いいえ", "いや", "結構です", "けっこうです", "不要", "やめ", "切り替えない",
		"このまま", "しない", "違う", "ちがう", "no", "nope", "don't", "dont",
	}
)

// KeywordJudge matches fixed phrase lists. A reply that hits both lists, or
// neither, is unclear.
type KeywordJudge struct{}

// Judge implements ConsentJudge. It never fails.
func (KeywordJudge) Judge(_ context.Context, reply, _ string) (Consent, error) {
	text := strings.ToLower(strings.TrimSpace(reply))
	tokens := asciiTokens(text)
	yes := matchAny(text, tokens, consentPhrases)
	no := matchAny(text, tokens, rejectionPhrases)
	switch {
	case yes != "" && no == "":
		return Consent{Verdict: VerdictConsent, Reason: "keyword: " + yes}, nil
	case no != "" && yes == "":
		return Consent{Verdict: VerdictRejection, Reason: "keyword: " + no}, nil
	default:
		return Consent{Verdict: VerdictUnclear, Reason: "no decisive keyword"}, nil
	}
}

// matchAny returns the first phrase found. ASCII phrases must match a whole
// token so that "no" does not fire on "know".
func matchAny(text string, tokens map[string]bool, phrases []string) string {
	for _, p := range phrases {
		if isASCII(p) {
			if tokens[p] {
				return p
			}
			continue
		}
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

func asciiTokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''))
	}) {
		out[f] = true
	}
	return out
}

func isASCII(s string) bool {
	for _, r := range s {
		if r >= unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Fallback judge
// ---------------------------------------------------------------------------

// FallbackJudge tries Primary and consults Secondary only when Primary is unclear.
type FallbackJudge struct {
	Primary   ConsentJudge
	Secondary ConsentJudge
}

// Judge implements ConsentJudge.
func (f *FallbackJudge) Judge(ctx context.Context, reply, proposal string) (Consent, error) {
	c, err := f.Primary.Judge(ctx, reply, proposal)
	if err != nil {
		return Consent{}, err
	}
	if c.Verdict != VerdictUnclear || f.Secondary == nil {
		return c, nil
	}
	return f.Secondary.Judge(ctx, reply, proposal)
}
