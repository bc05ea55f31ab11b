package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/timeline"
)

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string, string) (classifier.Result, error) {
	return classifier.Result{Mode: mode.General, Reason: "general", Confidence: 0.9}, nil
}

type stubTurns struct {
	filter timeline.FilterArgs
}

func (s *stubTurns) GetTurns(f timeline.FilterArgs) ([]timeline.TurnEvent, error) {
	s.filter = f
	return []timeline.TurnEvent{{TraceID: "t1", SessionID: f.SessionID, Kind: "delegated"}}, nil
}

func newTestServer(t *testing.T, cfg config.GatewayConfig, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	o := orchestrator.New(orchestrator.Options{
		Classifier: stubClassifier{},
		Factories:  map[mode.Mode]responder.Factory{mode.General: responder.GeneralFactory()},
		Policy:     orchestrator.PolicySilent,
		Welcome:    "ようこそ",
	})
	s := New(o, cfg, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func readSSE(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE payload %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestRoot(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{}, Options{Version: "test"})
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
	if modes, _ := body["modes"].([]any); len(modes) != 2 || modes[0] != "mode1" || modes[1] != "mode2" {
		t.Errorf("modes = %v", body["modes"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, ts := newTestServer(t, config.GatewayConfig{}, Options{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/session", `{"user_info":{"industry":"食品製造","region":" "}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("missing session_id")
	}
	sess, err := s.orch.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if p := sess.Profile(); p["industry"] != "食品製造" || len(p) != 1 {
		t.Errorf("profile = %v", p)
	}

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/session/"+id+"/messages", "", nil)
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected welcome message, got %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/session/"+id+"/clear", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear status %d", resp.StatusCode)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/session/"+id+"/messages", "", nil)
	if msgs, _ := body["messages"].([]any); len(msgs) != 0 {
		t.Errorf("messages after clear = %v", msgs)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("create without body: status %d", resp.StatusCode)
	}

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/sessions", "", nil)
	if list, _ := body["sessions"].([]any); len(list) != 2 {
		t.Errorf("sessions = %v", body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/session/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status %d", resp.StatusCode)
	}
	if _, err := s.orch.GetSession(id); err == nil {
		t.Error("session still present after delete")
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/session/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status %d", resp.StatusCode)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/session/nope/messages", ""},
		{http.MethodPost, "/api/session/nope/clear", ""},
		{http.MethodPost, "/api/session/nope/step", `{"step":"STEP_1"}`},
		{http.MethodPost, "/api/session/nope/profile", `{"user_info":{}}`},
	} {
		resp, _ := doJSON(t, tc.method, ts.URL+tc.path, tc.body, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestStepUpdate(t *testing.T) {
	s, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	id := s.orch.CreateSession("", nil).ID

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/session/"+id+"/step", `{"step":"STEP_2"}`, nil)
	if resp.StatusCode != http.StatusOK || body["current_step"] != "STEP_2" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/session/"+id+"/step", `{"step":"bogus"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid step: status %d", resp.StatusCode)
	}
}

func TestChatStreamsSSE(t *testing.T) {
	s, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	id := s.orch.CreateSession("", nil).ID

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"資金繰りの相談です","session_id":"`+id+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	events := readSSE(t, resp)

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev["type"].(string))
	}
	got := strings.Join(kinds, ",")
	if !strings.HasPrefix(got, "session,status,mode_update,content") || !strings.HasSuffix(got, "status,done") {
		t.Fatalf("event sequence = %s", got)
	}
	if events[2]["mode"] != string(mode.General) {
		t.Errorf("mode_update = %v", events[2])
	}
	done := events[len(events)-1]
	content, _ := done["content"].(string)
	if !strings.Contains(content, "資金繰りの相談です") {
		t.Errorf("done content = %q", content)
	}

	msgs, _ := s.orch.GetMessages(id)
	if len(msgs) != 3 || msgs[2].Content != content {
		t.Errorf("history = %+v", msgs)
	}
}

func TestChatCreatesSessionWhenMissing(t *testing.T) {
	s, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"こんにちは"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	events := readSSE(t, resp)
	id, _ := events[0]["session_id"].(string)
	if _, err := s.orch.GetSession(id); err != nil {
		t.Fatalf("session %q not created: %v", id, err)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	s, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chat", `{"message":"  "}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank message: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chat", `{`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: status %d", resp.StatusCode)
	}

	sess := s.orch.CreateSession("busy", nil)
	sess.BeginTurn()
	defer sess.EndTurn()
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chat", `{"message":"hi","session_id":"busy"}`, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("in-flight session: status %d", resp.StatusCode)
	}
}

func TestCostAnalysis(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	body := `{"before_sales":1000,"before_cost":600,"before_expenses":300,"current_sales":1000,"current_cost":700,"current_expenses":320}`
	resp, out := doJSON(t, http.MethodPost, ts.URL+"/api/cost-analysis", body, nil)
	if resp.StatusCode != http.StatusOK || out["success"] != true {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}
	result, _ := out["result"].(map[string]any)
	if result["reference_price"] == nil {
		t.Errorf("result = %v", result)
	}

	resp, out = doJSON(t, http.MethodPost, ts.URL+"/api/cost-analysis", `{"before_sales":-1}`, nil)
	if resp.StatusCode != http.StatusBadRequest || out["success"] != false {
		t.Errorf("negative input: status=%d body=%v", resp.StatusCode, out)
	}
}

func TestTurns(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{}, Options{})
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/session/s1/turns", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("disabled timeline: status %d", resp.StatusCode)
	}

	src := &stubTurns{}
	_, ts = newTestServer(t, config.GatewayConfig{}, Options{Timeline: src})
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/s1/turns?limit=5", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if turns, _ := body["turns"].([]any); len(turns) != 1 {
		t.Errorf("turns = %v", body)
	}
	if src.filter.SessionID != "s1" || src.filter.Limit != 5 {
		t.Errorf("filter = %+v", src.filter)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/session/s1/turns?limit=x", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{AuthToken: "secret"}, Options{})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/sessions", "", map[string]string{"Authorization": "Bearer secret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should be public: status %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{AllowOrigins: []string{"http://localhost:5173/"}}, Options{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("preflight: status=%d allow=%q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/", "", map[string]string{"Origin": "http://evil.example"})
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin must not be allowed")
	}
}

func TestJanitorEvictsIdleSessions(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{SessionIdleTTL: 10 * time.Millisecond}, Options{})
	s.orch.CreateSession("old", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.orch.GetSession("old"); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("idle session was not evicted")
}
