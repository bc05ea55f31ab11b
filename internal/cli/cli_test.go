package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/gateway"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/timeline"
)

func init() {
	color.NoColor = true
}

// isolate keeps the developer's ~/.tenka and env files out of a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TENKA_HOME", home)
	t.Setenv("TENKA_CONFIG", "")
	t.Setenv("TENKA_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("TAVILY_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

type generalClassifier struct{}

func (generalClassifier) Classify(context.Context, string, string) (classifier.Result, error) {
	return classifier.Result{Mode: mode.General, Confidence: 0.9}, nil
}

func newTestOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Options{
		Classifier: generalClassifier{},
		Factories:  map[mode.Mode]responder.Factory{mode.General: responder.GeneralFactory()},
		Policy:     orchestrator.PolicySilent,
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON record: %s", out)
	}

	buf.Reset()
	newLogger(config.LoggingConfig{Level: "debug"}, &buf).Debug("dbg")
	if !strings.Contains(buf.String(), "msg=dbg") {
		t.Errorf("expected text record: %s", buf.String())
	}
}

func TestRuntimeWithoutCredentialsRecordsErrorTurn(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timeline.DBPath = filepath.Join(t.TempDir(), "data", "timeline.db")
	rt, err := newRuntime(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rt.bus.DispatchTurns(ctx) }()

	sess := rt.orch.CreateSession("", nil)
	if msgs := sess.Messages(); len(msgs) != 1 || msgs[0].Content != cfg.Router.WelcomeMessage {
		t.Fatalf("welcome not seeded: %+v", msgs)
	}
	events, err := rt.orch.Stream(ctx, sess.ID, "値上げ交渉の相談です")
	if err != nil {
		t.Fatal(err)
	}
	var errs int
	for ev := range events {
		if ev.Type == responder.TypeError {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected one error event, got %d", errs)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		turns, err := rt.timeline.GetTurns(timeline.FilterArgs{SessionID: sess.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) == 1 {
			if turns[0].Kind != orchestrator.KindError {
				t.Errorf("kind = %q", turns[0].Kind)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("turn was not recorded")
}

func TestChatTurnPrintsReply(t *testing.T) {
	orch := newTestOrchestrator()
	sess := orch.CreateSession("", nil)

	var out bytes.Buffer
	if err := chatTurn(context.Background(), orch, sess.ID, "資金繰りの相談", &out); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "[モード: よろず経営相談]") {
		t.Errorf("missing mode notice: %s", got)
	}
	if !strings.Contains(got, "資金繰りの相談") {
		t.Errorf("missing reply: %s", got)
	}
}

func TestChatLoopCommands(t *testing.T) {
	orch := newTestOrchestrator()
	sess := orch.CreateSession("", nil)

	in := strings.NewReader("/step STEP_2\n/step bogus\nこんにちは\n/reset\n/exit\nignored\n")
	var out bytes.Buffer
	if err := chatLoop(context.Background(), orch, sess.ID, in, &out); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"STEP_2 に変更しました", "ステップを変更できません", "こんにちは", "会話をリセットしました"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if sess.Step() != "STEP_2" {
		t.Errorf("step = %q", sess.Step())
	}
	if n := sess.Len(); n != 0 {
		t.Errorf("history after reset = %d", n)
	}
}

func TestTurnsCommand(t *testing.T) {
	home := isolate(t)
	dbPath := filepath.Join(home, "turns.db")
	cfgPath := filepath.Join(home, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"timeline":{"dbPath":"`+dbPath+`"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TENKA_CONFIG", cfgPath)

	svc, err := timeline.NewTimelineService(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range []*bus.TurnRecord{
		{TraceID: "a", SessionID: "s1", Kind: "proposal", UserText: "値上げしたい", StartedAt: time.Now().Add(-time.Minute)},
		{TraceID: "b", SessionID: "s1", Kind: "consent", Mode: "mode2", UserText: "はい", StartedAt: time.Now()},
	} {
		if err := svc.AddTurn(rec); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.NoteRouterPolicy("consent"); err != nil {
		t.Fatal(err)
	}
	svc.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"turns", "--session", "s1", "--limit", "5"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("turns: %v", err)
	}
	got := out.String()
	for _, want := range []string{"KIND", "proposal", "consent", "-→mode2", "値上げしたい"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	rootCmd.SetArgs([]string{"turns", "--stats"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("turns --stats: %v", err)
	}
	if !strings.Contains(out.String(), "consent") || !strings.Contains(out.String(), "policy: consent") {
		t.Errorf("stats output:\n%s", out.String())
	}
	turnsStats = false
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "tenka "+version {
		t.Errorf("version output = %q", got)
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "sk-or-1234567890"
	cfg.Slack.BotToken = "short"
	cfg.Gateway.AuthToken = ""

	r := redacted(cfg)
	if r.Providers.OpenRouter.APIKey != "sk-o****" {
		t.Errorf("api key = %q", r.Providers.OpenRouter.APIKey)
	}
	if r.Slack.BotToken != "****" {
		t.Errorf("bot token = %q", r.Slack.BotToken)
	}
	if r.Gateway.AuthToken != "" {
		t.Errorf("empty token should stay empty")
	}
	if cfg.Providers.OpenRouter.APIKey != "sk-or-1234567890" {
		t.Error("original config was modified")
	}
}

func TestModeTransitionAndTruncate(t *testing.T) {
	if got := modeTransition("mode1", "mode1"); got != "mode1" {
		t.Errorf("same mode = %q", got)
	}
	if got := modeTransition("", "mode2"); got != "-→mode2" {
		t.Errorf("first mode = %q", got)
	}
	if got := truncateRunes("あいうえお", 3); got != "あいう…" {
		t.Errorf("truncate = %q", got)
	}
}

func TestFetchSessionsFromGateway(t *testing.T) {
	orch := newTestOrchestrator()
	orch.CreateSession("s1", nil)
	srv := httptest.NewServer(gateway.New(orch, config.GatewayConfig{AuthToken: "tok"}, gateway.Options{}).Handler())
	defer srv.Close()

	list, err := fetchSessions(srv.Client(), srv.URL, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Errorf("sessions = %+v", list)
	}
	if _, err := fetchSessions(srv.Client(), srv.URL, "wrong"); err == nil {
		t.Error("expected auth failure")
	}
}
