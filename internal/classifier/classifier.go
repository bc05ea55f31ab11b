// Package classifier assigns incoming utterances to a conversation mode and
// judges short consent replies, both through a single-shot LLM completion.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/provider"
)

var (
	// ErrUnavailable means the backend could not be called at all.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrMalformed means the backend answered but the output did not parse.
	ErrMalformed = errors.New("malformed classifier output")
)

// Backend is a single-shot text completion used for both classification
// and consent judgment.
type Backend interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderBackend adapts an LLMProvider to Backend.
type ProviderBackend struct {
	Provider    provider.LLMProvider
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewProviderBackend returns a low-temperature backend suitable for
// structured JSON judgments.
func NewProviderBackend(p provider.LLMProvider) *ProviderBackend {
	return &ProviderBackend{Provider: p, MaxTokens: 1024, Temperature: 0.2}
}

// Complete implements Backend.
func (b *ProviderBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if b == nil || b.Provider == nil {
		return "", ErrUnavailable
	}
	resp, err := b.Provider.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model:       b.Model,
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Result is the outcome of a classification. Degraded results carry the
// catalog default mode with zero confidence and never an error.
type Result struct {
	Mode          mode.Mode
	Reason        string
	Confidence    float64
	Clarification string
	Degraded      bool
	Raw           string
}

// Options tunes a Classifier.
type Options struct {
	// HistoryChars caps the history rendering passed to the backend.
	HistoryChars int
}

// Classifier wraps a Backend with the mode-classification prompt.
type Classifier struct {
	backend Backend
	catalog *mode.Catalog
	opts    Options
}

// New creates a classifier. A nil backend makes every call fail with ErrUnavailable.
func New(backend Backend, catalog *mode.Catalog, opts Options) *Classifier {
	if catalog == nil {
		catalog = mode.DefaultCatalog()
	}
	if opts.HistoryChars <= 0 {
		opts.HistoryChars = 800
	}
	return &Classifier{backend: backend, catalog: catalog, opts: opts}
}

// Catalog returns the mode catalog the classifier chooses from.
func (c *Classifier) Catalog() *mode.Catalog { return c.catalog }

// Classify assigns utterance to a mode. It returns an error wrapping
// ErrUnavailable only when the backend cannot be used; malformed output
// yields a degraded Result instead.
func (c *Classifier) Classify(ctx context.Context, utterance, history string) (Result, error) {
	if c.backend == nil {
		return Result{}, fmt.Errorf("%w: no backend configured", ErrUnavailable)
	}
	raw, err := c.backend.Complete(ctx, c.systemPrompt(), c.userPrompt(utterance, history))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	res, err := ParseResult(raw, c.catalog)
	if err != nil {
		slog.Warn("Mode classification degraded", "error", err, "raw", truncate(raw, 200))
		return c.degraded(raw), nil
	}
	return res, nil
}

func (c *Classifier) degraded(raw string) Result {
	return Result{
		Mode:     c.catalog.Default(),
		Reason:   "malformed classifier output",
		Degraded: true,
		Raw:      raw,
	}
}

func (c *Classifier) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("あなたは経営相談チャットのモード判定係です。")
	sb.WriteString("ユーザー発話と直近履歴から、次の4項目だけを持つJSONオブジェクトを出力してください。\n")
	sb.WriteString("- mode: 次のいずれか1つ。\n")
	sb.WriteString(c.catalog.PromptGuide())
	sb.WriteString("- reason: 判定理由を簡潔に。\n")
	sb.WriteString("- confidence: 0.0〜1.0 の数値。\n")
	sb.WriteString("- clarification: confidenceが0.6未満のとき、モードを決めるための具体的な質問を2〜3行で。高いときは空文字。\n")
	sb.WriteString("出力は必ずJSONのみ。説明文やコードブロックは不要です。")
	return sb.String()
}

func (c *Classifier) userPrompt(utterance, history string) string {
	h := strings.TrimSpace(tail(history, c.opts.HistoryChars))
	if h == "" {
		h = "なし"
	}
	return fmt.Sprintf(`ユーザー入力:
%s

直近履歴（最大%d文字）:
%s

出力フォーマット:
{"mode": "%s", "reason": "短い説明", "confidence": 0.5, "clarification": ""}`,
		utterance, c.opts.HistoryChars, h, c.catalog.Default())
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
