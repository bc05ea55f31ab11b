package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/provider"
)

type fakeBackend struct {
	out    string
	err    error
	system string
	user   string
	calls  int
}

func (f *fakeBackend) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.out, f.err
}

func TestClassifyParsesFencedJSON(t *testing.T) {
	b := &fakeBackend{out: "判定結果です\n```json\n{\"mode\": \"mode2\", \"reason\": \"price negotiation intent\", \"confidence\": 0.9, \"clarification\": \"\"}\n```"}
	c := New(b, mode.DefaultCatalog(), Options{})

	res, err := c.Classify(context.Background(), "価格交渉について相談したい", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Mode != mode.Negotiation || res.Confidence != 0.9 || res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(b.user, "なし") {
		t.Errorf("empty history should render as なし, prompt was %q", b.user)
	}
	if !strings.Contains(b.system, "'mode2'") {
		t.Errorf("system prompt should list catalog modes")
	}
}

func TestClassifyTruncatesHistory(t *testing.T) {
	b := &fakeBackend{out: `{"mode":"mode1","reason":"r","confidence":0.8}`}
	c := New(b, mode.DefaultCatalog(), Options{HistoryChars: 8})

	history := strings.Repeat("古", 50) + "新しい発話です。"
	if _, err := c.Classify(context.Background(), "x", history); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if strings.Contains(b.user, "古古") {
		t.Errorf("history not truncated: %q", b.user)
	}
	if !strings.Contains(b.user, "新しい発話です。") {
		t.Errorf("history tail missing: %q", b.user)
	}
}

func TestClassifyDegradesOnMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"non-json":      "mode2 だと思います",
		"empty":         "",
		"fenced-broken": "```json\n{\"mode\": \"mode2\", \"confidence\": }\n```",
		"unknown-mode":  `{"mode": "mode9", "reason": "?", "confidence": 0.9}`,
		"bad-number":    `{"mode": "mode2", "confidence": "high"}`,
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			c := New(&fakeBackend{out: out}, mode.DefaultCatalog(), Options{})
			res, err := c.Classify(context.Background(), "hi", "")
			if err != nil {
				t.Fatalf("malformed output must not error, got %v", err)
			}
			if !res.Degraded || res.Mode != mode.General || res.Confidence != 0 {
				t.Fatalf("expected degraded default, got %+v", res)
			}
		})
	}
}

func TestClassifyBackendFailureIsUnavailable(t *testing.T) {
	c := New(&fakeBackend{err: errors.New("connection refused")}, mode.DefaultCatalog(), Options{})
	_, err := c.Classify(context.Background(), "hi", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	c = New(nil, mode.DefaultCatalog(), Options{})
	if _, err := c.Classify(context.Background(), "hi", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil backend: expected ErrUnavailable, got %v", err)
	}
}

func TestParseResult(t *testing.T) {
	cat := mode.DefaultCatalog()
	cases := []struct {
		name     string
		raw      string
		wantMode mode.Mode
		wantConf float64
		wantErr  bool
	}{
		{"plain", `{"mode":"mode1","reason":"r","confidence":0.5,"clarification":""}`, mode.General, 0.5, false},
		{"clamp-high", `{"mode":"mode2","confidence":1.7}`, mode.Negotiation, 1, false},
		{"clamp-low", `{"mode":"mode2","confidence":-3}`, mode.Negotiation, 0, false},
		{"string-number", `{"mode":"mode2","confidence":"0.75"}`, mode.Negotiation, 0.75, false},
		{"case-insensitive", `{"mode":" Mode2 ","confidence":0.6}`, mode.Negotiation, 0.6, false},
		{"missing-confidence", `{"mode":"mode2"}`, mode.Negotiation, 0, false},
		{"unlabelled-fence", "```\n{\"mode\":\"mode1\",\"confidence\":0.4}\n```", mode.General, 0.4, false},
		{"embedded", `判定: {"mode":"mode2","reason":"値上げ {要請}","confidence":0.8} 以上`, mode.Negotiation, 0.8, false},
		{"mode-not-string", `{"mode":2,"confidence":0.8}`, "", 0, true},
		{"array", `[1,2,3]`, "", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ParseResult(tc.raw, cat)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if res.Mode != tc.wantMode || res.Confidence != tc.wantConf {
				t.Fatalf("got (%s, %v), want (%s, %v)", res.Mode, res.Confidence, tc.wantMode, tc.wantConf)
			}
		})
	}
}

type fakeProvider struct {
	req *provider.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.req = req
	return &provider.ChatResponse{Content: `{"mode":"mode1","confidence":0.9}`}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *provider.ChatRequest, _ func(string)) (*provider.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake" }

func TestProviderBackend(t *testing.T) {
	fp := &fakeProvider{}
	b := NewProviderBackend(fp)
	out, err := b.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(out, "mode1") {
		t.Errorf("unexpected output %q", out)
	}
	if len(fp.req.Messages) != 2 || fp.req.Messages[0].Role != "system" || fp.req.Temperature != 0.2 {
		t.Errorf("unexpected request %+v", fp.req)
	}

	var nilBackend *ProviderBackend
	if _, err := nilBackend.Complete(context.Background(), "", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil backend: expected ErrUnavailable, got %v", err)
	}
}
