package tools

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	// Test register and get
	r.Register(NewCostImpactTool())

	got, ok := r.Get("calculate_cost_impact")
	if !ok {
		t.Fatal("expected to find calculate_cost_impact tool")
	}
	if got.Name() != "calculate_cost_impact" {
		t.Errorf("expected name 'calculate_cost_impact', got '%s'", got.Name())
	}

	// Test not found
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected not to find nonexistent tool")
	}
	if _, err := r.Execute(context.Background(), "nonexistent", nil); err == nil {
		t.Error("expected error executing unknown tool")
	}

	// Test definitions
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Type != "function" || defs[0].Function.Name != "calculate_cost_impact" {
		t.Errorf("unexpected definitions %+v", defs)
	}
}

func TestNegotiationRegistry(t *testing.T) {
	r := NegotiationRegistry("UTC", "", "", 0)
	want := "calculate_cost_impact,compare_cost_periods,current_time"
	if got := strings.Join(r.Names(), ","); got != want {
		t.Errorf("names = %s, want %s", got, want)
	}

	r = NegotiationRegistry("UTC", "tvly-key", "", 0)
	if _, ok := r.Get("web_search"); !ok {
		t.Error("web_search should be registered when a key is configured")
	}
}

func TestCurrentTimeTool(t *testing.T) {
	tool := NewCurrentTimeTool("UTC")
	tool.now = func() time.Time { return time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC) }
	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "2026-04-01T09:30:00Z (UTC)" {
		t.Errorf("unexpected output %q", out)
	}

	if NewCurrentTimeTool("Not/AZone").loc != time.UTC {
		t.Error("unknown zone should fall back to UTC")
	}
}

func TestImpactAnalysis(t *testing.T) {
	structure := map[string]CostItem{
		"overhead":      {Ratio: 0.15, Amount: 150000},
		"material_cost": {Ratio: 0.40, Amount: 400000},
		"energy_cost":   {Ratio: 0.10, Amount: 100000},
		"labor_cost":    {Ratio: 0.35, Amount: 350000},
	}
	changes := map[string]float64{"material_cost": 0.2, "labor_cost": 0.05, "energy_cost": 0.3}

	res, err := ImpactAnalysis(structure, changes, 1100000)
	if err != nil {
		t.Fatalf("ImpactAnalysis: %v", err)
	}
	if res.Lines[0].Type != "material_cost" || res.Lines[3].Type != "overhead" {
		t.Errorf("lines not in canonical order: %+v", res.Lines)
	}
	if math.Abs(res.TotalAfter-1127500) > 1e-6 {
		t.Errorf("TotalAfter = %v", res.TotalAfter)
	}
	if math.Abs(res.IncreaseRate-12.75) > 1e-9 {
		t.Errorf("IncreaseRate = %v", res.IncreaseRate)
	}
	if res.Urgency != "high" || res.RecommendedKey != "standard" {
		t.Errorf("urgency = %s recommended = %s", res.Urgency, res.RecommendedKey)
	}
	if p := res.Scenario("standard").Price; p != 1240250 {
		t.Errorf("standard price = %v", p)
	}
	if p := res.Scenario("minimum").Price; p != 1162371 {
		t.Errorf("minimum price = %v", p)
	}
	if res.Scenario("premium").Price <= res.Scenario("standard").Price {
		t.Error("premium should exceed standard")
	}

	report := res.Report()
	for _, want := range []string{"1,127,500円", "竹（妥当）", "緊急度: 高", "赤字転落"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestImpactAnalysisEstimatesSales(t *testing.T) {
	res, err := ImpactAnalysis(map[string]CostItem{"material_cost": {Amount: 920000}}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.SalesEstimated || math.Abs(res.Sales-1000000) > 1e-3 {
		t.Errorf("estimated sales = %v (%v)", res.Sales, res.SalesEstimated)
	}
	if res.Urgency != "low" || res.RecommendedKey != "minimum" {
		t.Errorf("unchanged costs should be low urgency, got %s", res.Urgency)
	}

	if _, err := ImpactAnalysis(map[string]CostItem{}, nil, 0); err == nil {
		t.Error("empty structure should fail")
	}
}

func TestCostImpactToolExecute(t *testing.T) {
	var params map[string]any
	raw := `{"current_cost_structure": {"material_cost": {"ratio": 1, "amount": 500000}}, "price_changes": {"material_cost": 0.1}, "current_sales": 550000}`
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		t.Fatal(err)
	}
	out, err := NewCostImpactTool().Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "550,000円") {
		t.Errorf("unexpected report: %s", out)
	}

	out, _ = NewCostImpactTool().Execute(context.Background(), map[string]any{})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("missing params should produce an error message, got %q", out)
	}
}

func TestComparePeriods(t *testing.T) {
	c := ComparePeriods(PeriodInput{
		BeforeSales: 1000, BeforeCost: 600, BeforeExpenses: 300,
		CurrentSales: 1000, CurrentCost: 700, CurrentExpenses: 320,
	})
	if c.Before.ProfitRate != 10 || c.Current.Profit != -20 {
		t.Errorf("figures = %+v / %+v", c.Before, c.Current)
	}
	if math.Abs(c.ReferencePrice-1133.3333333) > 1e-6 {
		t.Errorf("reference price = %v", c.ReferencePrice)
	}
	if math.Abs(c.PriceGapRate-13.3333333) > 1e-6 {
		t.Errorf("price gap rate = %v", c.PriceGapRate)
	}
	if c.Changes["profit"].Rate != -120 {
		t.Errorf("profit change rate = %v", c.Changes["profit"].Rate)
	}
}

func TestComparePeriodsLossBeforeUsesMarkup(t *testing.T) {
	c := ComparePeriods(PeriodInput{BeforeSales: 100, BeforeCost: 120, CurrentSales: 100, CurrentCost: 150})
	if math.Abs(c.ReferencePrice-165) > 1e-9 {
		t.Errorf("reference price = %v, want 165", c.ReferencePrice)
	}
}

func TestCompareCostPeriodsToolRejectsNegative(t *testing.T) {
	out, err := NewCompareCostPeriodsTool().Execute(context.Background(), map[string]any{
		"before_sales": -1.0, "before_cost": 1.0, "before_expenses": 1.0,
		"current_sales": 1.0, "current_cost": 1.0, "current_expenses": 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "before_sales") {
		t.Errorf("expected validation message, got %q", out)
	}
}

func TestWebSearchTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["api_key"] != "tvly-key" || body["query"] != "労務費 転嫁 指針" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"answer":"公表されています","results":[{"title":"労務費の適切な転嫁のための価格交渉に関する指針","url":"https://www.jftc.go.jp/","content":"指針の概要"}]}`))
	}))
	defer server.Close()

	tool := NewWebSearchTool("tvly-key", server.URL, 3)
	out, err := tool.Execute(context.Background(), map[string]any{"query": "労務費 転嫁 指針"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "https://www.jftc.go.jp/") || !strings.Contains(out, "要約: 公表されています") {
		t.Errorf("unexpected output %q", out)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("missing query should error, got %q", out)
	}
}

func TestRegistryExecuteStructured(t *testing.T) {
	r := NegotiationRegistry("UTC", "", "", 0)
	_, data, err := r.ExecuteStructured(context.Background(), "compare_cost_periods", map[string]any{
		"before_sales": 1000.0, "before_cost": 600.0, "before_expenses": 300.0,
		"current_sales": 1000.0, "current_cost": 700.0, "current_expenses": 320.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := data.(PeriodComparison); !ok {
		t.Fatalf("expected PeriodComparison data, got %T", data)
	}

	_, data, err = r.ExecuteStructured(context.Background(), "current_time", nil)
	if err != nil || data != nil {
		t.Fatalf("plain tools carry no data, got %v / %v", data, err)
	}
}
