package substitution

import (
	"fmt"
	"time"
)

// RuleSubstitution 規則表中的單一替代項
type RuleSubstitution struct {
	SubstituteIngredient string     `yaml:"substitute_ingredient" json:"substitute_ingredient"`
	SubstituteAmount     string     `yaml:"substitute_amount,omitempty" json:"substitute_amount,omitempty"`
	Ratio                string     `yaml:"ratio,omitempty" json:"ratio,omitempty"`
	Confidence           Confidence `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	ConfidenceScore      *float64   `yaml:"confidence_score,omitempty" json:"confidence_score,omitempty"`
	Reason               string     `yaml:"reason" json:"reason"`
	CookingAdjustment    string     `yaml:"cooking_adjustment,omitempty" json:"cooking_adjustment,omitempty"`
	BestFor              []string   `yaml:"best_for,omitempty" json:"best_for,omitempty"`
	AvoidFor             []string   `yaml:"avoid_for,omitempty" json:"avoid_for,omitempty"`
	FlavorImpact         Impact     `yaml:"flavor_impact,omitempty" json:"flavor_impact,omitempty"`
	TextureImpact        Impact     `yaml:"texture_impact,omitempty" json:"texture_impact,omitempty"`
}

// RuleEntry 規則表條目
type RuleEntry struct {
	Ingredient    string             `yaml:"ingredient" json:"ingredient"`
	Aliases       []string           `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Category      string             `yaml:"category" json:"category"`
	Substitutions []RuleSubstitution `yaml:"substitutions" json:"substitutions"`
}

// StaticTable 載入後唯讀的靜態規則表，可並行讀取。
// 表的順序有意義：模糊比對時取第一個符合的條目，較長、較具體的名稱應排在前面。
type StaticTable struct {
	entries []compiledRule
	byName  map[string]int
	byAlias map[string]int
}

type compiledRule struct {
	key           string
	category      string
	substitutions []Substitution
}

// NewStaticTable 驗證並編譯規則
func NewStaticTable(entries []RuleEntry) (*StaticTable, error) {
	t := &StaticTable{
		entries: make([]compiledRule, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
		byAlias: make(map[string]int),
	}

	for i, entry := range entries {
		key := Normalize(entry.Ingredient)
		if key == "" {
			return nil, fmt.Errorf("rule %d (%q): ingredient normalizes to an empty key", i, entry.Ingredient)
		}
		if prev, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("rule %d (%q): duplicates rule %d under key %q", i, entry.Ingredient, prev, key)
		}

		subs := make([]Substitution, 0, len(entry.Substitutions))
		for j, rs := range entry.Substitutions {
			sub, err := compileRuleSubstitution(rs)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%q) substitution %d: %w", i, entry.Ingredient, j, err)
			}
			subs = append(subs, sub)
		}

		idx := len(t.entries)
		t.entries = append(t.entries, compiledRule{key: key, category: entry.Category, substitutions: subs})
		t.byName[key] = idx
	}

	// 別名在所有名稱之後建立，名稱完全符合優先於別名
	for i, entry := range entries {
		for _, alias := range entry.Aliases {
			ak := Normalize(alias)
			if ak == "" {
				continue
			}
			if _, exists := t.byAlias[ak]; !exists {
				t.byAlias[ak] = i
			}
		}
	}

	return t, nil
}

func compileRuleSubstitution(rs RuleSubstitution) (Substitution, error) {
	if rs.SubstituteIngredient == "" {
		return Substitution{}, fmt.Errorf("substitute_ingredient is required")
	}

	confidence := rs.Confidence
	var score float64
	switch {
	case rs.ConfidenceScore != nil:
		score = *rs.ConfidenceScore
		if !(score >= 0 && score <= 1) {
			return Substitution{}, fmt.Errorf("confidence_score %v out of range [0,1]", score)
		}
		if confidence == "" {
			confidence = ConfidenceForScore(score)
		}
	case confidence.Valid():
		score = confidence.DefaultScore()
	case confidence == "":
		return Substitution{}, fmt.Errorf("confidence or confidence_score is required")
	}
	if !confidence.Valid() {
		return Substitution{}, fmt.Errorf("invalid confidence %q", confidence)
	}
	if rs.FlavorImpact != "" && !rs.FlavorImpact.Valid() {
		return Substitution{}, fmt.Errorf("invalid flavor_impact %q", rs.FlavorImpact)
	}
	if rs.TextureImpact != "" && !rs.TextureImpact.Valid() {
		return Substitution{}, fmt.Errorf("invalid texture_impact %q", rs.TextureImpact)
	}

	return Substitution{
		SubstituteIngredient: rs.SubstituteIngredient,
		SubstituteAmount:     rs.SubstituteAmount,
		Ratio:                rs.Ratio,
		Confidence:           confidence,
		ConfidenceScore:      score,
		Reason:               rs.Reason,
		CookingAdjustment:    rs.CookingAdjustment,
		BestFor:              cloneStrings(rs.BestFor),
		AvoidFor:             cloneStrings(rs.AvoidFor),
		FlavorImpact:         rs.FlavorImpact,
		TextureImpact:        rs.TextureImpact,
		Source:               SourceStatic,
	}, nil
}

// Len 規則數量
func (t *StaticTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Lookup 以正規化鍵查詢靜態規則：名稱完全符合、別名完全符合、雙向包含，先符合者勝出
func (t *StaticTable) Lookup(key, rawIngredient string, now time.Time) (*Result, bool) {
	if t == nil || key == "" {
		return nil, false
	}

	idx, ok := t.match(key)
	if !ok {
		return nil, false
	}

	rule := t.entries[idx]
	subs := make([]Substitution, len(rule.substitutions))
	for i, s := range rule.substitutions {
		subs[i] = s.clone()
		subs[i].OriginalIngredient = rawIngredient
	}

	result := newResult(rawIngredient, subs, SourceStatic, now)
	result.IngredientCategory = rule.category
	return result, true
}

func (t *StaticTable) match(key string) (int, bool) {
	if idx, ok := t.byName[key]; ok {
		return idx, true
	}
	if idx, ok := t.byAlias[key]; ok {
		return idx, true
	}
	for i, rule := range t.entries {
		if containsEither(key, rule.key) {
			return i, true
		}
	}
	return 0, false
}
