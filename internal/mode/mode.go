// Package mode defines the specialist conversation modes and their catalog.
package mode

import (
	"fmt"
	"strings"
)

// Mode identifies a specialist conversational behavior.
type Mode string

const (
	// Unset is the mode of a session before its first successful classification.
	Unset Mode = ""
	// General is the lightweight general business consultation mode.
	General Mode = "mode1"
	// Negotiation is the price pass-through / price negotiation specialist mode.
	Negotiation Mode = "mode2"
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == Unset {
		return "unset"
	}
	return string(m)
}

// Spec describes one mode for prompts, proposals and banners.
type Spec struct {
	Mode         Mode
	Title        string
	Summary      string
	Capabilities []string
	// Keywords steer the classifier prompt towards this mode.
	Keywords []string
}

// Catalog is an ordered set of mode specs. The first entry is the default
// mode used when a classification degrades.
type Catalog struct {
	specs []Spec
}

// NewCatalog builds a catalog from specs. Duplicate or empty modes are rejected.
func NewCatalog(specs ...Spec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("catalog needs at least one mode")
	}
	seen := make(map[Mode]struct{}, len(specs))
	for _, s := range specs {
		if s.Mode == Unset {
			return nil, fmt.Errorf("catalog entry %q has empty mode", s.Title)
		}
		if _, dup := seen[s.Mode]; dup {
			return nil, fmt.Errorf("duplicate mode %q", s.Mode)
		}
		seen[s.Mode] = struct{}{}
	}
	return &Catalog{specs: append([]Spec(nil), specs...)}, nil
}

// DefaultCatalog returns the two-mode catalog: general consultation and
// price negotiation support.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(
		Spec{
			Mode:    General,
			Title:   "よろず経営相談",
			Summary: "資金繰り・人材・販路・事業承継・組織づくりなど、経営全般のご相談に対応します。",
			Capabilities: []string{
				"経営課題の整理と論点の明確化",
				"次に確認すべき情報の提示",
				"一般的な打ち手の方向性の提案",
			},
			Keywords: []string{"資金繰り", "人材", "採用", "販路", "事業承継", "組織", "マーケティング", "補助金"},
		},
		Spec{
			Mode:    Negotiation,
			Title:   "価格転嫁・値上げ交渉支援",
			Summary: "原価上昇を取引価格に反映するための準備から交渉の実践までを専門的に支援します。",
			Capabilities: []string{
				"原価上昇のインパクト試算と価格改定案（松竹梅）の作成",
				"取引先への申し入れ・説明資料の組み立て",
				"下請法・取引慣行の確認と交渉方針の検討",
			},
			Keywords: []string{"価格交渉", "値上げ", "単価", "原価計算", "見積", "コスト", "下請法", "買いたたき", "取引条件", "支払条件"},
		},
	)
	return c
}

// Modes returns the catalog modes in order.
func (c *Catalog) Modes() []Mode {
	out := make([]Mode, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.Mode
	}
	return out
}

// Default returns the fallback mode.
func (c *Catalog) Default() Mode {
	return c.specs[0].Mode
}

// Lookup returns the spec for m.
func (c *Catalog) Lookup(m Mode) (Spec, bool) {
	for _, s := range c.specs {
		if s.Mode == m {
			return s, true
		}
	}
	return Spec{}, false
}

// Valid reports whether m is a catalog mode.
func (c *Catalog) Valid(m Mode) bool {
	_, ok := c.Lookup(m)
	return ok
}

// Normalize maps loose model output ("Mode2", " mode2 ") to a catalog mode.
func (c *Catalog) Normalize(raw string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid(m) {
		return m, true
	}
	return Unset, false
}

// Title returns the display title of m, or its wire name if unknown.
func (c *Catalog) Title(m Mode) string {
	if s, ok := c.Lookup(m); ok {
		return s.Title
	}
	return m.String()
}

// Proposal renders the consent question shown before switching into m.
func (c *Catalog) Proposal(m Mode, reason string) string {
	s, ok := c.Lookup(m)
	if !ok {
		return fmt.Sprintf("「%s」モードに切り替えてもよろしいですか？（はい／いいえ）", m)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "ご相談内容から、「%s」モードでの対応が適していると考えました。\n", s.Title)
	if r := strings.TrimSpace(reason); r != "" {
		fmt.Fprintf(&sb, "（判断理由: %s）\n", r)
	}
	sb.WriteString("\n")
	sb.WriteString(s.Summary)
	sb.WriteString("\n")
	for _, item := range s.Capabilities {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\nこのモードに切り替えて進めてもよろしいですか？（はい／いいえ）")
	return sb.String()
}

// Banner is the one-line notice shown when switching into m without consent.
func (c *Catalog) Banner(m Mode) string {
	s, ok := c.Lookup(m)
	if !ok {
		return fmt.Sprintf("【%s】に切り替えました。", m)
	}
	return fmt.Sprintf("【%sモード】%s", s.Title, s.Summary)
}

// PromptGuide renders the mode list for the classifier system prompt.
func (c *Catalog) PromptGuide() string {
	var sb strings.Builder
	for _, s := range c.specs {
		fmt.Fprintf(&sb, "- '%s' (%s): %s", s.Mode, s.Title, s.Summary)
		if len(s.Keywords) > 0 {
			fmt.Fprintf(&sb, " 例: %s。", strings.Join(s.Keywords, "/"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
