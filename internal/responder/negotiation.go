package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/KafClaw/tenka/internal/provider"
	"github.com/KafClaw/tenka/internal/tools"
)

// NegotiationOptions configures a Negotiation responder.
type NegotiationOptions struct {
	Provider      provider.LLMProvider
	Tools         *tools.Registry
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	Profile       Profile
	Step          string
}

// Negotiation is the price negotiation specialist. It runs an LLM
// function-calling loop over its tool registry and remembers the
// conversation for as long as it lives.
type Negotiation struct {
	opts NegotiationOptions

	mu      sync.Mutex
	history []provider.Message
}

// NewNegotiation creates a negotiation responder.
func NewNegotiation(opts NegotiationOptions) *Negotiation {
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	opts.Profile = opts.Profile.Clone()
	return &Negotiation{opts: opts}
}

// NegotiationFactory returns a Factory that resolves the provider on each
// construction. Resolution failures produce a Failed responder.
func NegotiationFactory(resolve func() (provider.LLMProvider, error), registry func() *tools.Registry, base NegotiationOptions) Factory {
	return func(in FactoryInput) Responder {
		p, err := resolve()
		if err != nil {
			return NewFailed(err, "価格交渉支援エンジンを初期化できませんでした。APIキーなどの設定を確認してから、もう一度お試しください。")
		}
		opts := base
		opts.Provider = p
		opts.Profile = in.Profile
		opts.Step = in.Step
		if registry != nil {
			opts.Tools = registry()
		}
		return NewNegotiation(opts)
	}
}

// Stream implements Responder.
func (n *Negotiation) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		n.mu.Lock()
		defer n.mu.Unlock()
		n.run(ctx, emitter{ctx: ctx, out: out}, req)
	}()
	return out
}

func (n *Negotiation) run(ctx context.Context, em emitter, req Request) {
	if n.opts.Provider == nil {
		em.send(ErrorEvent("価格交渉支援エンジンが設定されていません。"))
		return
	}
	step := req.Step
	if step == "" {
		step = n.opts.Step
	}

	messages := make([]provider.Message, 0, len(n.history)+2)
	messages = append(messages, provider.Message{Role: "system", Content: n.systemPrompt(step)})
	messages = append(messages, n.history...)
	messages = append(messages, provider.Message{Role: "user", Content: req.Message})

	var final strings.Builder
	defer func() {
		// Remember the exchange, including partial output after a cancel.
		n.history = append(n.history, provider.Message{Role: "user", Content: req.Message})
		if text := strings.TrimSpace(final.String()); text != "" {
			n.history = append(n.history, provider.Message{Role: "assistant", Content: text})
		}
	}()

	toolDefs := n.opts.Tools.Definitions()
	for i := 0; i < n.opts.MaxIterations; i++ {
		chatReq := &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       n.opts.Model,
			MaxTokens:   n.opts.MaxTokens,
			Temperature: n.opts.Temperature,
		}
		resp, err := n.opts.Provider.ChatStream(ctx, chatReq, func(delta string) {
			final.WriteString(delta)
			em.send(TextDelta(delta))
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Negotiation LLM call failed", "iteration", i, "error", err)
			em.send(ErrorEvent("回答の生成中にエラーが発生しました。時間をおいて再度お試しください。"))
			return
		}

		if len(resp.ToolCalls) == 0 {
			return
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if !em.send(ToolStatus(tc.Name)) {
				return
			}
			result, data, err := n.opts.Tools.ExecuteStructured(ctx, tc.Name, tc.Arguments)
			if err != nil {
				result = fmt.Sprintf("Error: %v", err)
			}
			if !em.send(ToolResult(tc.Name, truncateRunes(result, 2000))) {
				return
			}
			if data != nil {
				if !em.send(ArtifactEvent(&Artifact{Kind: tc.Name, Data: data})) {
					return
				}
			}
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
			slog.Debug("Tool executed", "name", tc.Name, "result_length", len(result))
		}
	}

	notice := "\n\n（ツールの呼び出し回数が上限に達しました。ご質問を絞って、もう一度お試しください。）"
	final.WriteString(notice)
	em.send(TextDelta(notice))
}

func (n *Negotiation) systemPrompt(step string) string {
	var sb strings.Builder
	sb.WriteString(`あなたは中小企業の価格転嫁・値上げ交渉を支援する専門アドバイザーです。
原価上昇を取引価格へ適正に反映するための準備（原価計算・単価表・見積書・付加価値の整理）から、
取引先への申し入れ・説明資料・交渉の進め方までを、具体的かつ実務的に助言してください。

方針:
- 数値が必要な試算は calculate_cost_impact や compare_cost_periods を使い、結果をもとに説明する。
- 法令・指針（下請法、労務費の適切な転嫁のための価格交渉に関する指針など）は正確に扱い、断定できない点は確認を促す。
- 不足している情報は、一度に2〜3点に絞って質問する。
- 回答は日本語で、見出しや箇条書きを使って簡潔にまとめる。
`)
	if title := StepTitle(step); title != "" {
		fmt.Fprintf(&sb, "\n現在のステップ: %s（%s）。このステップに沿った助言を優先してください。\n", step, title)
	}
	var lines []string
	for _, l := range profilePromptLabels {
		if v := strings.TrimSpace(n.opts.Profile[l.key]); v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", l.label, v))
		}
	}
	if len(lines) > 0 {
		sb.WriteString("\n相談者のプロフィール:\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

var profilePromptLabels = []struct{ key, label string }{
	{"industry", "業種"},
	{"products", "主要製品・サービス"},
	{"companySize", "企業規模"},
	{"region", "地域"},
	{"clientIndustry", "主要取引先の業種"},
	{"priceTransferStatus", "価格転嫁の状況"},
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
