package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["stream"] != true {
			t.Errorf("expected stream=true in request body")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIProvider_ChatStreamContent(t *testing.T) {
	server := sseServer(t,
		`{"choices":[{"delta":{"role":"assistant","content":"こんにち"}}]}`,
		`{"choices":[{"delta":{"content":"は"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
	)
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	var deltas []string
	resp, err := p.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}
	if strings.Join(deltas, "|") != "こんにち|は" {
		t.Errorf("unexpected deltas %q", deltas)
	}
	if resp.Content != "こんにちは" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIProvider_ChatStreamAccumulatesToolCalls(t *testing.T) {
	server := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"current_time","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"compare_cost_periods","arguments":"{\"before_sales\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"100}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	resp, err := p.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "calc"}},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "current_time" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("unexpected first call %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Arguments["before_sales"] != float64(100) {
		t.Errorf("unexpected second call args %+v", resp.ToolCalls[1].Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("unexpected finish reason %q", resp.FinishReason)
	}
}

func TestOpenAIProvider_ChatStreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	if _, err := p.ChatStream(context.Background(), &ChatRequest{}, nil); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestReadStreamRejectsGarbage(t *testing.T) {
	_, err := readStream(context.Background(), strings.NewReader("data: {not json}\n\n"), nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
}
