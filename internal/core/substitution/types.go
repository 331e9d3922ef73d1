package substitution

import (
	"context"
	"time"
)

// Source 結果來源
type Source string

const (
	SourceStatic Source = "static"
	SourceCached Source = "cached"
	SourceAI     Source = "ai"
)

// Confidence 信心等級
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid 是否為已知等級
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// DefaultScore 等級對應的預設分數
func (c Confidence) DefaultScore() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.7
	default:
		return 0.4
	}
}

// ConfidenceForScore 由分數推得等級
func ConfidenceForScore(score float64) Confidence {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Impact 風味或口感影響程度
type Impact string

const (
	ImpactNone        Impact = "none"
	ImpactMinimal     Impact = "minimal"
	ImpactNoticeable  Impact = "noticeable"
	ImpactSignificant Impact = "significant"
)

// Valid 是否為已知程度
func (i Impact) Valid() bool {
	switch i {
	case ImpactNone, ImpactMinimal, ImpactNoticeable, ImpactSignificant:
		return true
	}
	return false
}

// Context 呼叫端提供的食譜情境
type Context struct {
	RecipeName          string   `json:"recipe_name,omitempty"`
	CookingMethod       string   `json:"cooking_method,omitempty"`
	UserIngredients     []string `json:"user_ingredients,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
}

// Request 單一食材的替代請求
type Request struct {
	Ingredient string   `json:"ingredient" binding:"required"`
	Context    *Context `json:"context,omitempty"`
}

// Substitution 單一替代候選
type Substitution struct {
	OriginalIngredient   string     `json:"original_ingredient"`
	SubstituteIngredient string     `json:"substitute_ingredient"`
	SubstituteAmount     string     `json:"substitute_amount,omitempty"`
	Ratio                string     `json:"ratio,omitempty"`
	Confidence           Confidence `json:"confidence"`
	ConfidenceScore      float64    `json:"confidence_score"`
	Reason               string     `json:"reason"`
	CookingAdjustment    string     `json:"cooking_adjustment,omitempty"`
	BestFor              []string   `json:"best_for,omitempty"`
	AvoidFor             []string   `json:"avoid_for,omitempty"`
	FlavorImpact         Impact     `json:"flavor_impact,omitempty"`
	TextureImpact        Impact     `json:"texture_impact,omitempty"`
	IsUserAvailable      *bool      `json:"is_user_available,omitempty"`
	Source               Source     `json:"source"`
}

// Result 單一食材的完整結果
type Result struct {
	Ingredient         string         `json:"ingredient"`
	IngredientCategory string         `json:"ingredient_category,omitempty"`
	HasSubstitutions   bool           `json:"has_substitutions"`
	Substitutions      []Substitution `json:"substitutions"`
	Notes              string         `json:"notes,omitempty"`
	GeneratedAt        time.Time      `json:"generated_at"`
	Source             Source         `json:"source"`
}

// Clone 深拷貝結果，避免呼叫端修改引擎內部狀態
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Substitutions = make([]Substitution, len(r.Substitutions))
	for i, s := range r.Substitutions {
		out.Substitutions[i] = s.clone()
	}
	return &out
}

// WithSource 將結果與每個候選的來源改寫為 source
func (r *Result) WithSource(source Source) *Result {
	r.Source = source
	for i := range r.Substitutions {
		r.Substitutions[i].Source = source
	}
	return r
}

func (s Substitution) clone() Substitution {
	out := s
	out.BestFor = cloneStrings(s.BestFor)
	out.AvoidFor = cloneStrings(s.AvoidFor)
	if s.IsUserAvailable != nil {
		v := *s.IsUserAvailable
		out.IsUserAvailable = &v
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// newResult 建立結果並維持 HasSubstitutions 與清單一致
func newResult(ingredient string, subs []Substitution, source Source, at time.Time) *Result {
	if subs == nil {
		subs = []Substitution{}
	}
	return &Result{
		Ingredient:       ingredient,
		HasSubstitutions: len(subs) > 0,
		Substitutions:    subs,
		GeneratedAt:      at,
		Source:           source,
	}
}

// CacheStats 快取觀測數據
type CacheStats struct {
	Total   int     `json:"total"`
	Valid   int     `json:"valid"`
	Expired int     `json:"expired"`
	HitRate float64 `json:"hit_rate"`
}

// Cache 解析快取，實作需可並行使用
type Cache interface {
	// Get 取得未過期的結果；過期條目會被刪除並回傳 false
	Get(ctx context.Context, key string) (*Result, bool)
	// Put 以寫入時間起算 TTL 儲存結果
	Put(ctx context.Context, key string, result *Result)
	// SweepExpired 清除所有過期條目並回傳數量
	SweepExpired(ctx context.Context) int
	Stats(ctx context.Context) CacheStats
}

// HitRater 不需走訪條目即可回報命中率的快取
type HitRater interface {
	HitRate() float64
}
