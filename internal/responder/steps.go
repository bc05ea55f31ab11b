package responder

// Steps of the price negotiation process. STEP_0 checks are preparation,
// STEP_1..5 are the negotiation itself.
var stepTitles = map[string]string{
	"STEP_0_CHECK_1": "取引条件・業務内容の確認",
	"STEP_0_CHECK_2": "原材料費・労務費データの定期収集",
	"STEP_0_CHECK_3": "原価計算の実施",
	"STEP_0_CHECK_4": "単価表の作成",
	"STEP_0_CHECK_5": "見積書フォーマットの整備",
	"STEP_0_CHECK_6": "取引先の経営方針・業績把握",
	"STEP_0_CHECK_7": "自社の付加価値の明確化",
	"STEP_0_CHECK_8": "適正な取引慣行の確認",
	"STEP_1":         "業界動向の情報収集",
	"STEP_2":         "取引先情報収集と交渉方針検討",
	"STEP_3":         "書面での申し入れ",
	"STEP_4":         "説明資料の準備",
	"STEP_5":         "発注後に発生する価格交渉",
}

// ValidStep reports whether step is empty or a known step identifier.
func ValidStep(step string) bool {
	if step == "" {
		return true
	}
	_, ok := stepTitles[step]
	return ok
}

// StepTitle returns the display title of step, or "" if unknown.
func StepTitle(step string) string {
	return stepTitles[step]
}
