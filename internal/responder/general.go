package responder

import (
	"context"
	"fmt"
	"strings"
)

// profileLabels lists the profile keys the general responder echoes back.
var profileLabels = []struct{ key, label string }{
	{"industry", "業種"},
	{"products", "主要製品・サービス"},
	{"companySize", "企業規模"},
	{"region", "地域"},
}

// General is the lightweight consultation responder. It works offline and
// keeps no state between turns.
type General struct {
	profile Profile
}

// NewGeneral creates a general responder bound to profile.
func NewGeneral(profile Profile) *General {
	return &General{profile: profile.Clone()}
}

// GeneralFactory returns a Factory for General.
func GeneralFactory() Factory {
	return func(in FactoryInput) Responder { return NewGeneral(in.Profile) }
}

// Stream implements Responder.
func (g *General) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		profile := req.Profile
		if profile == nil {
			profile = g.profile
		}
		emitter{ctx: ctx, out: out}.send(TextDelta(generalReply(req.Message, profile, req.TurnIndex)))
	}()
	return out
}

func generalReply(prompt string, profile Profile, turnIndex int) string {
	var sb strings.Builder
	sb.WriteString("了解しました。まず状況を整理します。")
	if p := strings.TrimSpace(prompt); p != "" {
		r := []rune(p)
		if len(r) > 80 {
			r = r[:80]
		}
		fmt.Fprintf(&sb, " いまのお話は「%s」ですね。", string(r))
	}
	var shared []string
	for _, l := range profileLabels {
		if v := strings.TrimSpace(profile[l.key]); v != "" {
			shared = append(shared, l.label+": "+v)
		}
	}
	if len(shared) > 0 {
		sb.WriteString(" 共有プロフィール: " + strings.Join(shared, "; ") + "。")
	}

	sb.WriteString("\n\n")
	sb.WriteString("- 課題の背景・制約条件・期限を教えてください。\n")
	sb.WriteString("- 現状わかっているデータ（数値・取引先・影響範囲）を共有してください。\n")
	sb.WriteString("- ゴール（達成したい姿）を簡潔に教えてください。\n\n")

	if turnIndex > 0 {
		sb.WriteString("この3点を補足いただければ、さらに具体策を深掘りできます。")
	} else {
		sb.WriteString("次にこの3点を伺えれば、具体策を提案します。")
	}
	return sb.String()
}
