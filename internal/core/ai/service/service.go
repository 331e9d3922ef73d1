package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"substitution-engine/internal/core/ai/provider"
	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/pkg/common"

	"go.uber.org/zap"
)

const systemPrompt = "You are a culinary assistant that suggests ingredient substitutions. " +
	"Respond with a single JSON object and nothing else."

// Dispatcher 送出 provider 請求，*queue.Manager 即符合
type Dispatcher interface {
	Submit(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// Service AI 替代食材生成服務，實作 substitution.Generator
type Service struct {
	dispatcher  Dispatcher
	maxTokens   int
	temperature float64
}

// NewService 創建 AI 服務
func NewService(cfg config.OpenRouterConfig, dispatcher Dispatcher) *Service {
	return &Service{
		dispatcher:  dispatcher,
		maxTokens:   cfg.MaxTokens,
		temperature: 0.3,
	}
}

// GenerateSubstitutions 請模型產生替代清單，回傳回應中的 JSON 物件
func (s *Service) GenerateSubstitutions(ctx context.Context, req substitution.GenerationRequest) (string, error) {
	if s == nil || s.dispatcher == nil {
		return "", common.ErrGeneratorDisabled
	}

	prompt := buildPrompt(req)
	common.LogDebug("替代食材 prompt", zap.String("ingredient", req.Ingredient), zap.String("prompt", prompt))

	start := time.Now()
	resp, err := s.dispatcher.Submit(ctx, &provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: systemPrompt},
			{Role: provider.RoleUser, Content: prompt},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate substitutions for %q: %w", req.Ingredient, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", common.ErrEmptyAIResponse
	}

	object, err := common.ExtractJSONObject(resp.Content)
	if err != nil {
		common.LogWarn("AI 回應中找不到 JSON",
			zap.String("ingredient", req.Ingredient),
			zap.Int("content_length", len(resp.Content)),
		)
		return "", err
	}

	common.LogDebug("AI 替代食材回應",
		zap.String("ingredient", req.Ingredient),
		zap.Duration("耗時", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return object, nil
}

func buildPrompt(req substitution.GenerationRequest) string {
	restrictions := "none"
	if len(req.DietaryRestrictions) > 0 {
		restrictions = strings.Join(req.DietaryRestrictions, ", ")
	}

	prompt := fmt.Sprintf(`Suggest substitutes for an ingredient.
Ingredient: %s
Recipe: %s
Cooking method: %s
Dietary restrictions: %s

Return JSON in exactly this shape:
{
  "ingredient_category": "short category such as dairy, spice, vegetable",
  "substitutions": [
    {
      "substitute_ingredient": "name",
      "substitute_amount": "amount to use",
      "ratio": "e.g. 1:1",
      "confidence": "high | medium | low",
      "confidence_score": 0.0,
      "reason": "why it works",
      "cooking_adjustment": "changes to the method, or empty",
      "best_for": ["dishes"],
      "avoid_for": ["dishes"],
      "flavor_impact": "none | minimal | noticeable | significant",
      "texture_impact": "none | minimal | noticeable | significant"
    }
  ],
  "notes": "optional general advice"
}

Rules:
- At most 5 substitutions, best first.
- confidence_score is a number between 0 and 1.
- Every substitute must respect the dietary restrictions.
- If nothing works, return an empty substitutions list and explain in notes.`,
		req.Ingredient, req.RecipeName, req.CookingMethod, restrictions)

	return strings.TrimSpace(prompt)
}
