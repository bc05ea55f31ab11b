package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// PeriodInput holds sales, cost of sales and expenses for the period before
// the cost surge and for the current period.
type PeriodInput struct {
	BeforeSales     float64 `json:"before_sales"`
	BeforeCost      float64 `json:"before_cost"`
	BeforeExpenses  float64 `json:"before_expenses"`
	CurrentSales    float64 `json:"current_sales"`
	CurrentCost     float64 `json:"current_cost"`
	CurrentExpenses float64 `json:"current_expenses"`
}

// PeriodFigures are the derived figures of one period.
type PeriodFigures struct {
	Sales      float64 `json:"sales"`
	Cost       float64 `json:"cost"`
	Expenses   float64 `json:"expenses"`
	TotalCost  float64 `json:"total_cost"`
	Profit     float64 `json:"profit"`
	ProfitRate float64 `json:"profit_rate"`
}

// Change is an absolute and relative delta between periods.
type Change struct {
	Amount float64 `json:"amount"`
	Rate   float64 `json:"rate"`
}

// PeriodComparison is the result of ComparePeriods.
type PeriodComparison struct {
	Before         PeriodFigures     `json:"before"`
	Current        PeriodFigures     `json:"current"`
	Changes        map[string]Change `json:"changes"`
	ReferencePrice float64           `json:"reference_price"`
	PriceGap       float64           `json:"price_gap"`
	PriceGapRate   float64           `json:"price_gap_rate"`
}

// Validate rejects negative inputs and NaNs.
func (in PeriodInput) Validate() error {
	for name, v := range map[string]float64{
		"before_sales": in.BeforeSales, "before_cost": in.BeforeCost, "before_expenses": in.BeforeExpenses,
		"current_sales": in.CurrentSales, "current_cost": in.CurrentCost, "current_expenses": in.CurrentExpenses,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a non-negative number", name)
		}
	}
	return nil
}

// ComparePeriods compares the two periods and derives the reference price
// that would restore the pre-surge profit rate.
func ComparePeriods(in PeriodInput) PeriodComparison {
	before := figures(in.BeforeSales, in.BeforeCost, in.BeforeExpenses)
	current := figures(in.CurrentSales, in.CurrentCost, in.CurrentExpenses)

	profitRate := 0.0
	if before.Profit != 0 {
		profitRate = (current.Profit - before.Profit) / math.Abs(before.Profit) * 100
	}
	out := PeriodComparison{
		Before:  before,
		Current: current,
		Changes: map[string]Change{
			"sales":      {Amount: current.Sales - before.Sales, Rate: pctChange(before.Sales, current.Sales)},
			"cost":       {Amount: current.Cost - before.Cost, Rate: pctChange(before.Cost, current.Cost)},
			"expenses":   {Amount: current.Expenses - before.Expenses, Rate: pctChange(before.Expenses, current.Expenses)},
			"total_cost": {Amount: current.TotalCost - before.TotalCost, Rate: pctChange(before.TotalCost, current.TotalCost)},
			"profit":     {Amount: current.Profit - before.Profit, Rate: profitRate},
		},
	}

	if before.ProfitRate > 0 && before.ProfitRate < 100 {
		out.ReferencePrice = current.TotalCost / (1 - before.ProfitRate/100)
	} else {
		out.ReferencePrice = current.TotalCost * 1.1
	}
	out.PriceGap = out.ReferencePrice - in.CurrentSales
	if in.CurrentSales > 0 {
		out.PriceGapRate = out.PriceGap / in.CurrentSales * 100
	}
	return out
}

func figures(sales, cost, expenses float64) PeriodFigures {
	f := PeriodFigures{Sales: sales, Cost: cost, Expenses: expenses}
	f.TotalCost = cost + expenses
	f.Profit = sales - f.TotalCost
	if sales > 0 {
		f.ProfitRate = f.Profit / sales * 100
	}
	return f
}

func pctChange(before, current float64) float64 {
	if before <= 0 {
		return 0
	}
	return (current - before) / before * 100
}

// Summary renders the comparison for the LLM.
func (c PeriodComparison) Summary() string {
	return fmt.Sprintf(`【コスト比較】
- 売上高: %s → %s (%s)
- 売上原価: %s → %s (%s)
- 販管費: %s → %s (%s)
- 利益: %s → %s
- 利益率: %.1f%% → %.1f%%

【参考価格】コスト高騰前の利益率を維持するための売上高: %s
- 現状との差額: %s (%s)`,
		yen(c.Before.Sales), yen(c.Current.Sales), signedPct(c.Changes["sales"].Rate),
		yen(c.Before.Cost), yen(c.Current.Cost), signedPct(c.Changes["cost"].Rate),
		yen(c.Before.Expenses), yen(c.Current.Expenses), signedPct(c.Changes["expenses"].Rate),
		yen(c.Before.Profit), yen(c.Current.Profit),
		c.Before.ProfitRate, c.Current.ProfitRate,
		yen(c.ReferencePrice), yen(c.PriceGap), signedPct(c.PriceGapRate))
}

// ---------------------------------------------------------------------------
// compare_cost_periods
// ---------------------------------------------------------------------------

// CompareCostPeriodsTool exposes ComparePeriods to the LLM.
type CompareCostPeriodsTool struct{}

// NewCompareCostPeriodsTool creates the tool.
func NewCompareCostPeriodsTool() *CompareCostPeriodsTool { return &CompareCostPeriodsTool{} }

func (t *CompareCostPeriodsTool) Name() string { return "compare_cost_periods" }

func (t *CompareCostPeriodsTool) Description() string {
	return "コスト高騰前と現在の売上高・売上原価・販管費を比較し、利益率を維持するための参考価格を算出します。"
}

func (t *CompareCostPeriodsTool) Parameters() map[string]any {
	num := func(desc string) map[string]any {
		return map[string]any{"type": "number", "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"before_sales":     num("コスト高騰前の売上高"),
			"before_cost":      num("コスト高騰前の売上原価"),
			"before_expenses":  num("コスト高騰前の販管費"),
			"current_sales":    num("現在の売上高"),
			"current_cost":     num("現在の売上原価"),
			"current_expenses": num("現在の販管費"),
		},
		"required": []string{"before_sales", "before_cost", "before_expenses", "current_sales", "current_cost", "current_expenses"},
	}
}

func (t *CompareCostPeriodsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	out, _, err := t.ExecuteStructured(ctx, params)
	return out, err
}

// ExecuteStructured returns the summary plus the PeriodComparison.
func (t *CompareCostPeriodsTool) ExecuteStructured(_ context.Context, params map[string]any) (string, any, error) {
	var in PeriodInput
	data, _ := json.Marshal(params)
	if err := json.Unmarshal(data, &in); err != nil {
		return "Error: 入力値の形式が正しくありません", nil, nil
	}
	if err := in.Validate(); err != nil {
		return fmt.Sprintf("Error: %v", err), nil, nil
	}
	res := ComparePeriods(in)
	return res.Summary(), res, nil
}
