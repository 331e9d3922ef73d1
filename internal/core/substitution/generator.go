package substitution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"

	"go.uber.org/zap"
)

// GenerationRequest 送往遠端生成能力的結構化請求
type GenerationRequest struct {
	Ingredient          string   `json:"ingredient"`
	RecipeName          string   `json:"recipe_name"`
	CookingMethod       string   `json:"cooking_method"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
}

// Generator 遠端文字生成能力，回傳包含 JSON 物件的文字
type Generator interface {
	GenerateSubstitutions(ctx context.Context, req GenerationRequest) (string, error)
}

// 生成失敗原因
const (
	FailureDisabled  = "disabled"
	FailureTimeout   = "timeout"
	FailureCanceled  = "canceled"
	FailureTransport = "transport"
	FailureMalformed = "malformed_response"
)

// RemoteAdapter 包裝遠端生成：成功時寫入快取，任何失敗都降級為空結果，不回傳錯誤
type RemoteAdapter struct {
	generator            Generator
	cache                Cache
	clock                clock.Clock
	timeout              time.Duration
	defaultRecipeName    string
	defaultCookingMethod string
}

// NewRemoteAdapter 創建遠端生成轉接器，generator 或 cache 可為 nil
func NewRemoteAdapter(generator Generator, cache Cache, opts Options) *RemoteAdapter {
	opts = opts.withDefaults()
	return &RemoteAdapter{
		generator:            generator,
		cache:                cache,
		clock:                opts.Clock,
		timeout:              opts.GenerationTimeout,
		defaultRecipeName:    opts.DefaultRecipeName,
		defaultCookingMethod: opts.DefaultCookingMethod,
	}
}

// Generate 以遠端能力產生替代清單，key 為 rawIngredient 的正規化鍵
func (a *RemoteAdapter) Generate(ctx context.Context, key, rawIngredient string, c *Context) *Result {
	if a.generator == nil {
		metrics.ObserveGeneration(0, FailureDisabled)
		return a.failure(rawIngredient, FailureDisabled, common.ErrGeneratorDisabled)
	}

	req := a.buildRequest(rawIngredient, c)

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	content, err := a.generator.GenerateSubstitutions(genCtx, req)
	duration := time.Since(start)
	if err != nil {
		reason := classifyFailure(genCtx, err)
		common.LogAICall(rawIngredient, duration, err)
		metrics.ObserveGeneration(duration, reason)
		return a.failure(rawIngredient, reason, err)
	}

	result, err := parseGeneratedResult(content, rawIngredient, a.clock.Now())
	if err != nil {
		common.LogWarn("Failed to parse generated substitutions",
			zap.String("ingredient", rawIngredient),
			zap.Int("content_length", len(content)),
			zap.Error(err),
		)
		metrics.ObserveGeneration(duration, FailureMalformed)
		return a.failure(rawIngredient, FailureMalformed, err)
	}

	common.LogAICall(rawIngredient, duration, nil)
	metrics.ObserveGeneration(duration, "")

	// 生成已完成，即使呼叫端已取消也保留快取
	if a.cache != nil && key != "" {
		a.cache.Put(context.WithoutCancel(ctx), key, result.Clone())
	}

	return result
}

func (a *RemoteAdapter) buildRequest(rawIngredient string, c *Context) GenerationRequest {
	req := GenerationRequest{
		Ingredient:    rawIngredient,
		RecipeName:    a.defaultRecipeName,
		CookingMethod: a.defaultCookingMethod,
	}
	if c == nil {
		return req
	}
	if name := strings.TrimSpace(c.RecipeName); name != "" {
		req.RecipeName = name
	}
	if method := strings.TrimSpace(c.CookingMethod); method != "" {
		req.CookingMethod = method
	}
	req.DietaryRestrictions = cloneStrings(c.DietaryRestrictions)
	return req
}

func (a *RemoteAdapter) failure(rawIngredient, reason string, err error) *Result {
	result := newResult(rawIngredient, nil, SourceAI, a.clock.Now())
	result.Notes = failureNote(rawIngredient, reason)
	common.LogDebug("Generation degraded to empty result",
		zap.String("ingredient", rawIngredient),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return result
}

func failureNote(rawIngredient, reason string) string {
	switch reason {
	case FailureDisabled:
		return fmt.Sprintf("No known substitutions for %q, and AI suggestions are not available.", rawIngredient)
	case FailureTimeout:
		return fmt.Sprintf("Finding substitutions for %q took too long. Please try again shortly.", rawIngredient)
	case FailureCanceled:
		return fmt.Sprintf("The substitution lookup for %q was cancelled.", rawIngredient)
	case FailureMalformed:
		return fmt.Sprintf("Could not understand the suggested substitutions for %q. Please try again.", rawIngredient)
	default:
		return fmt.Sprintf("Substitution suggestions for %q are temporarily unavailable.", rawIngredient)
	}
}

func classifyFailure(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, common.ErrGeneratorDisabled):
		return FailureDisabled
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return FailureCanceled
	case errors.Is(err, common.ErrNoJSONObject) || errors.Is(err, common.ErrEmptyAIResponse):
		return FailureMalformed
	default:
		return FailureTransport
	}
}

// ---------------- 遠端回應的寬鬆解析結構 ----------------

type generatedResponse struct {
	IngredientCategory flexString               `json:"ingredient_category"`
	Notes              flexString               `json:"notes"`
	Substitutions      *[]generatedSubstitution `json:"substitutions"`
}

type generatedSubstitution struct {
	SubstituteIngredient flexString  `json:"substitute_ingredient"`
	SubstituteAmount     flexString  `json:"substitute_amount"`
	Ratio                flexString  `json:"ratio"`
	Confidence           flexString  `json:"confidence"`
	ConfidenceScore      flexFloat   `json:"confidence_score"`
	Reason               flexString  `json:"reason"`
	CookingAdjustment    flexString  `json:"cooking_adjustment"`
	BestFor              flexStrings `json:"best_for"`
	AvoidFor             flexStrings `json:"avoid_for"`
	FlavorImpact         flexString  `json:"flavor_impact"`
	TextureImpact        flexString  `json:"texture_impact"`
}

// parseGeneratedResult 將遠端 JSON 轉為結果；缺少 substitutions 欄位視為格式錯誤
func parseGeneratedResult(content, rawIngredient string, now time.Time) (*Result, error) {
	object, err := common.ExtractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var resp generatedResponse
	if err := common.ParseJSON(object, &resp); err != nil {
		// 模型偶爾輸出未加引號的鍵
		resp = generatedResponse{}
		if retryErr := common.ParseJSON(common.QuoteJSONKeys(object), &resp); retryErr != nil {
			return nil, fmt.Errorf("failed to parse generated substitutions: %w", err)
		}
	}
	if resp.Substitutions == nil {
		return nil, fmt.Errorf("generated response has no substitutions field")
	}

	subs := make([]Substitution, 0, len(*resp.Substitutions))
	for _, g := range *resp.Substitutions {
		name := strings.TrimSpace(string(g.SubstituteIngredient))
		if name == "" {
			continue
		}
		confidence, score := resolveConfidence(Confidence(strings.ToLower(strings.TrimSpace(string(g.Confidence)))), g.ConfidenceScore)
		subs = append(subs, Substitution{
			OriginalIngredient:   rawIngredient,
			SubstituteIngredient: name,
			SubstituteAmount:     strings.TrimSpace(string(g.SubstituteAmount)),
			Ratio:                strings.TrimSpace(string(g.Ratio)),
			Confidence:           confidence,
			ConfidenceScore:      score,
			Reason:               strings.TrimSpace(string(g.Reason)),
			CookingAdjustment:    strings.TrimSpace(string(g.CookingAdjustment)),
			BestFor:              []string(g.BestFor),
			AvoidFor:             []string(g.AvoidFor),
			FlavorImpact:         parseImpact(string(g.FlavorImpact)),
			TextureImpact:        parseImpact(string(g.TextureImpact)),
			Source:               SourceAI,
		})
	}

	result := newResult(rawIngredient, subs, SourceAI, now)
	result.IngredientCategory = strings.TrimSpace(string(resp.IngredientCategory))
	result.Notes = strings.TrimSpace(string(resp.Notes))
	if !result.HasSubstitutions && result.Notes == "" {
		result.Notes = fmt.Sprintf("No reliable substitutes are known for %q.", rawIngredient)
	}
	return result, nil
}

// resolveConfidence 分數與等級互相補足，分數限制在 [0,1]
func resolveConfidence(confidence Confidence, score flexFloat) (Confidence, float64) {
	if score.set && !math.IsNaN(score.value) && !math.IsInf(score.value, 0) {
		v := score.value
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		if !confidence.Valid() {
			confidence = ConfidenceForScore(v)
		}
		return confidence, v
	}
	if confidence.Valid() {
		return confidence, confidence.DefaultScore()
	}
	return ConfidenceLow, ConfidenceLow.DefaultScore()
}

func parseImpact(s string) Impact {
	impact := Impact(strings.ToLower(strings.TrimSpace(s)))
	if impact.Valid() {
		return impact
	}
	return ""
}

// flexString 接受字串、數字、布林或 null
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", data)
	default:
		*f = flexString(data)
		return nil
	}
}

// flexFloat 接受數字或數字字串。帶 % 的值與 (1,100] 之間的裸數字一律視為百分比，
// 例如 85 與 "85%" 皆為 0.85；以 1 到 10 計分的 8 也會成為 0.08。
// NaN、Inf 或無法辨識的值視為未提供。
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = flexFloat{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	raw = strings.TrimSpace(raw)
	percent := strings.HasSuffix(raw, "%")
	raw = strings.TrimSuffix(raw, "%")

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		// 無法辨識的分數視為未提供
		*f = flexFloat{}
		return nil
	}
	if percent || (v > 1 && v <= 100) {
		v /= 100
	}
	*f = flexFloat{value: v, set: true}
	return nil
}

// flexStrings 接受字串陣列或單一字串
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(string(item)); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			out = nil
		}
		*f = out
		return nil
	}
	var single flexString
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if s := strings.TrimSpace(string(single)); s != "" {
		*f = []string{s}
	} else {
		*f = nil
	}
	return nil
}
