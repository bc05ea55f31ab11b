package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// assumedProfitMargin is used to estimate sales when none are given.
const assumedProfitMargin = 8.0

// minimumMargin is the 梅 (minimum defence) margin in percent.
const minimumMargin = 3.0

var costTypeNames = map[string]string{
	"material_cost": "材料費",
	"labor_cost":    "労務費",
	"energy_cost":   "エネルギー費",
	"overhead":      "その他経費",
}

var costTypeOrder = map[string]int{
	"material_cost": 0,
	"labor_cost":    1,
	"energy_cost":   2,
	"overhead":      3,
}

// CostItem is one line of a cost structure.
type CostItem struct {
	Ratio  float64 `json:"ratio"`
	Amount float64 `json:"amount"`
}

// CostLine is the before/after figure of one cost item.
type CostLine struct {
	Type       string  `json:"type"`
	Original   float64 `json:"original"`
	New        float64 `json:"new"`
	Increase   float64 `json:"increase"`
	ChangeRate float64 `json:"change_rate"`
}

// Scenario is one of the three price revision proposals.
type Scenario struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	ProfitMargin float64 `json:"profit_margin"`
	Description  string  `json:"description"`
}

// CostImpact is the result of ImpactAnalysis.
type CostImpact struct {
	Lines            []CostLine `json:"lines"`
	TotalBefore      float64    `json:"total_before"`
	TotalAfter       float64    `json:"total_after"`
	TotalIncrease    float64    `json:"total_increase"`
	IncreaseRate     float64    `json:"increase_rate"`
	Sales            float64    `json:"sales"`
	SalesEstimated   bool       `json:"sales_estimated"`
	BeforeProfitRate float64    `json:"before_profit_rate"`
	FrozenProfitRate float64    `json:"frozen_profit_rate"`
	Scenarios        []Scenario `json:"scenarios"`
	RecommendedKey   string     `json:"recommended"`
	Urgency          string     `json:"urgency"`
}

// ImpactAnalysis applies price changes to a cost structure and derives the
// 松竹梅 price scenarios. Sales <= 0 are estimated from an 8% margin.
func ImpactAnalysis(structure map[string]CostItem, changes map[string]float64, sales float64) (CostImpact, error) {
	var out CostImpact
	keys := make([]string, 0, len(structure))
	for k := range structure {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := costTypeOrder[keys[i]]
		oj, jok := costTypeOrder[keys[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})

	for _, k := range keys {
		item := structure[k]
		rate := changes[k]
		newAmount := item.Amount * (1 + rate)
		out.Lines = append(out.Lines, CostLine{
			Type:       k,
			Original:   item.Amount,
			New:        newAmount,
			Increase:   newAmount - item.Amount,
			ChangeRate: rate,
		})
		out.TotalBefore += item.Amount
		out.TotalAfter += newAmount
	}
	if out.TotalBefore == 0 {
		return CostImpact{}, fmt.Errorf("cost structure has no amounts")
	}
	out.TotalIncrease = out.TotalAfter - out.TotalBefore
	out.IncreaseRate = out.TotalIncrease / out.TotalBefore * 100

	if sales <= 0 {
		sales = out.TotalBefore / (1 - assumedProfitMargin/100)
		out.SalesEstimated = true
	}
	out.Sales = sales
	out.BeforeProfitRate = (sales - out.TotalBefore) / sales * 100
	out.FrozenProfitRate = (sales - out.TotalAfter) / sales * 100
	out.Scenarios = scenarios(out.TotalAfter, out.BeforeProfitRate)

	switch {
	case out.FrozenProfitRate < 0:
		out.Urgency = "high"
		out.RecommendedKey = "standard"
	case out.FrozenProfitRate < minimumMargin:
		out.Urgency = "medium"
		out.RecommendedKey = "standard"
	default:
		out.Urgency = "low"
		out.RecommendedKey = "minimum"
	}
	return out, nil
}

func scenarios(totalCost, beforeProfitRate float64) []Scenario {
	priceFor := func(margin, fallback float64) float64 {
		if margin < 100 {
			return totalCost / (1 - margin/100)
		}
		return totalCost * fallback
	}
	premium := beforeProfitRate + 2
	return []Scenario{
		{Key: "premium", Name: "松（理想）", Price: math.Round(priceFor(premium, 1.2)), ProfitMargin: round2(premium), Description: "コスト高騰前より高い利益率を確保"},
		{Key: "standard", Name: "竹（妥当）", Price: math.Round(priceFor(beforeProfitRate, 1.1)), ProfitMargin: round2(beforeProfitRate), Description: "コスト高騰前の利益率を維持"},
		{Key: "minimum", Name: "梅（最低防衛）", Price: math.Round(priceFor(minimumMargin, 1.0)), ProfitMargin: minimumMargin, Description: "事業継続のための最低ライン"},
	}
}

// Scenario returns the scenario with key.
func (c CostImpact) Scenario(key string) Scenario {
	for _, s := range c.Scenarios {
		if s.Key == key {
			return s
		}
	}
	return Scenario{}
}

// Report renders the analysis as the Japanese report shown to the user.
func (c CostImpact) Report() string {
	var sb strings.Builder
	rule := "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"
	sb.WriteString("**コスト影響分析結果**\n\n")
	sb.WriteString(rule + "【現状分析】\n" + rule + "\n**現在のコスト構造:**\n")
	for _, l := range c.Lines {
		name := costTypeNames[l.Type]
		if name == "" {
			name = l.Type
		}
		fmt.Fprintf(&sb, "- %s: %s → %s (%s)\n", name, yen(l.Original), yen(l.New), signedPct(l.ChangeRate*100))
	}
	fmt.Fprintf(&sb, "\n**総コスト:** %s → %s\n", yen(c.TotalBefore), yen(c.TotalAfter))
	fmt.Fprintf(&sb, "**コスト上昇額:** +%s (%s)\n\n", yen(c.TotalIncrease), signedPct(c.IncreaseRate))

	sb.WriteString(rule + "【利益への影響】\n" + rule + "\n")
	fmt.Fprintf(&sb, "- 現在の売上高: %s", yen(c.Sales))
	if c.SalesEstimated {
		sb.WriteString("（利益率8%を仮定した推計）")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "- コスト上昇前の利益率: %.1f%%\n", c.BeforeProfitRate)
	fmt.Fprintf(&sb, "- **価格据え置き時の利益率: %.1f%%**", c.FrozenProfitRate)
	switch {
	case c.FrozenProfitRate < 0:
		sb.WriteString(" 赤字転落")
	case c.FrozenProfitRate < minimumMargin:
		sb.WriteString(" 利益圧迫")
	}
	sb.WriteString("\n\n")

	sb.WriteString(rule + "【価格改定シナリオ（松竹梅）】\n" + rule + "\n")
	for _, s := range c.Scenarios {
		fmt.Fprintf(&sb, "**%s**\n   - 目標価格: %s（%s）\n   - 利益率: %.1f%%\n   - %s\n\n",
			s.Name, yen(s.Price), signedPct(c.rateVsSales(s.Price)), s.ProfitMargin, s.Description)
	}

	rec := c.Scenario(c.RecommendedKey)
	sb.WriteString(rule + "【推奨アクション】\n" + rule + "\n")
	switch c.Urgency {
	case "high":
		sb.WriteString("**緊急度: 高** - 価格転嫁なしでは赤字です。早急な交渉が必要です。\n\n")
	case "medium":
		sb.WriteString("**緊急度: 中** - 利益率が大幅に低下します。価格転嫁を検討してください。\n\n")
	default:
		sb.WriteString("**緊急度: 低** - 利益率は維持できますが、将来に備えた交渉も検討可能です。\n\n")
	}
	fmt.Fprintf(&sb, "**推奨シナリオ:** %s\n", rec.Name)
	fmt.Fprintf(&sb, "- 交渉目標: %s（現行比 %s）\n", yen(rec.Price), signedPct(c.rateVsSales(rec.Price)))
	fmt.Fprintf(&sb, "- 最低防衛ライン: %s\n\n", yen(c.Scenario("minimum").Price))
	fmt.Fprintf(&sb, "**交渉のポイント:**\n1. コスト上昇の具体的データ（%.1f%%上昇）を提示\n2. 公的指針（労務費転嫁指針等）を参照\n3. 取引先の財務状況も考慮した提案を", c.IncreaseRate)
	return sb.String()
}

func (c CostImpact) rateVsSales(price float64) float64 {
	if c.Sales <= 0 {
		return 0
	}
	return (price - c.Sales) / c.Sales * 100
}

// ---------------------------------------------------------------------------
// calculate_cost_impact
// ---------------------------------------------------------------------------

// CostImpactTool exposes ImpactAnalysis to the LLM.
type CostImpactTool struct{}

// NewCostImpactTool creates the tool.
func NewCostImpactTool() *CostImpactTool { return &CostImpactTool{} }

func (t *CostImpactTool) Name() string { return "calculate_cost_impact" }

func (t *CostImpactTool) Description() string {
	return "コスト上昇のインパクトを試算し、松竹梅の価格改定案を生成します。原価構造（各費目の金額）と費目ごとの変動率をヒアリングしてから使用してください。"
}

func (t *CostImpactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"current_cost_structure": map[string]any{
				"type":        "object",
				"description": "費目名をキーに {\"ratio\": 比率, \"amount\": 金額} を指定。例: material_cost, labor_cost, energy_cost, overhead",
				"additionalProperties": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ratio":  map[string]any{"type": "number"},
						"amount": map[string]any{"type": "number"},
					},
				},
			},
			"price_changes": map[string]any{
				"type":                 "object",
				"description":          "費目名をキーに変動率を指定（0.2 = +20%）",
				"additionalProperties": map[string]any{"type": "number"},
			},
			"current_sales": map[string]any{
				"type":        "number",
				"description": "現在の売上高（省略時はコストから推計）",
			},
		},
		"required": []string{"current_cost_structure", "price_changes"},
	}
}

func (t *CostImpactTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	out, _, err := t.ExecuteStructured(ctx, params)
	return out, err
}

// ExecuteStructured returns the report plus the CostImpact it was rendered from.
func (t *CostImpactTool) ExecuteStructured(_ context.Context, params map[string]any) (string, any, error) {
	var structure map[string]CostItem
	if err := remarshal(GetMap(params, "current_cost_structure"), &structure); err != nil {
		return "Error: current_cost_structure の形式が正しくありません", nil, nil
	}
	changes := map[string]float64{}
	if m := GetMap(params, "price_changes"); m != nil {
		if err := remarshal(m, &changes); err != nil {
			return "Error: price_changes の形式が正しくありません", nil, nil
		}
	}
	res, err := ImpactAnalysis(structure, changes, GetFloat(params, "current_sales", 0))
	if err != nil {
		return "Error: コスト構造が正しく入力されていません。各費目の金額（amount）を確認してください。", nil, nil
	}
	return res.Report(), res, nil
}

// remarshal converts a decoded JSON object into a typed value.
func remarshal(in map[string]any, out any) error {
	if in == nil {
		return fmt.Errorf("missing object")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func yen(f float64) string {
	return humanize.Comma(int64(math.Round(f))) + "円"
}

func signedPct(f float64) string {
	if f >= 0 {
		return fmt.Sprintf("+%.1f%%", f)
	}
	return fmt.Sprintf("%.1f%%", f)
}
