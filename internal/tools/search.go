package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchTool queries the Tavily search API.
type WebSearchTool struct {
	apiKey     string
	apiBase    string
	maxResults int
	httpClient *http.Client
}

// NewWebSearchTool creates a search tool. apiBase defaults to the public
// Tavily endpoint.
func NewWebSearchTool(apiKey, apiBase string, maxResults int) *WebSearchTool {
	if apiBase == "" {
		apiBase = "https://api.tavily.com"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Webを検索して、業界動向・原材料価格・労務費・公的指針などの最新情報を取得します。"
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "検索クエリ",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "取得件数（既定5件）",
			},
		},
		"required": []string{"query"},
	}
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "Error: query is required", nil
	}
	limit := GetInt(params, "max_results", t.maxResults)
	if limit <= 0 || limit > 10 {
		limit = t.maxResults
	}

	body, err := json.Marshal(map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"max_results":    limit,
		"search_depth":   "basic",
		"include_answer": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", t.apiBase+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: 検索に失敗しました: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: 検索APIエラー (status %d)", resp.StatusCode), nil
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return fmt.Sprintf("「%s」に一致する検索結果はありませんでした。", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "「%s」の検索結果:\n", query)
	if a := strings.TrimSpace(parsed.Answer); a != "" {
		fmt.Fprintf(&sb, "\n要約: %s\n", a)
	}
	for i, r := range parsed.Results {
		content := []rune(strings.TrimSpace(r.Content))
		if len(content) > 300 {
			content = append(content[:300], []rune("...")...)
		}
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, string(content))
	}
	return sb.String(), nil
}

// NegotiationRegistry builds the tool set of the negotiation responder.
// web_search is only registered when an API key is configured.
func NegotiationRegistry(timeZone, searchKey, searchBase string, searchMax int) *Registry {
	r := NewRegistry()
	r.Register(NewCurrentTimeTool(timeZone))
	r.Register(NewCostImpactTool())
	r.Register(NewCompareCostPeriodsTool())
	if strings.TrimSpace(searchKey) != "" {
		r.Register(NewWebSearchTool(searchKey, searchBase, searchMax))
	}
	return r
}
