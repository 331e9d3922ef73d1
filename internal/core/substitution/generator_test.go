package substitution

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    []GenerationRequest
	generate func(ctx context.Context, req GenerationRequest) (string, error)
}

func (f *fakeGenerator) GenerateSubstitutions(ctx context.Context, req GenerationRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.generate(ctx, req)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func respondWith(content string) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, GenerationRequest) (string, error) {
		return content, nil
	}}
}

type recordingCache struct {
	mu   sync.Mutex
	puts map[string]*Result
	ctxs []context.Context
}

func newRecordingCache() *recordingCache {
	return &recordingCache{puts: make(map[string]*Result)}
}

func (c *recordingCache) Get(ctx context.Context, key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.puts[key]
	if !ok {
		return nil, false
	}
	return r.Clone().WithSource(SourceCached), true
}

func (c *recordingCache) Put(ctx context.Context, key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts[key] = result
	c.ctxs = append(c.ctxs, ctx)
}

func (c *recordingCache) SweepExpired(ctx context.Context) int { return 0 }

func (c *recordingCache) Stats(ctx context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Total: len(c.puts), Valid: len(c.puts)}
}

const tahiniResponse = `Here are some options:
{
  "ingredient_category": "condiment",
  "substitutions": [
    {
      "substitute_ingredient": "sunflower seed butter",
      "ratio": "1:1",
      "confidence": "high",
      "confidence_score": 0.85,
      "reason": "similar nutty paste",
      "best_for": ["dressings", "hummus"],
      "flavor_impact": "Minimal",
      "texture_impact": "none"
    },
    {
      "substitute_ingredient": "greek yogurt",
      "confidence": "low",
      "reason": "adds creaminess",
      "best_for": "sauces"
    }
  ],
  "notes": "Seed butters work best."
}
Enjoy!`

func newTestAdapter(gen Generator, cache Cache) (*RemoteAdapter, *clock.Fake) {
	clk := clock.NewFake(ruleTime)
	return NewRemoteAdapter(gen, cache, Options{Clock: clk, GenerationTimeout: time.Second}), clk
}

func TestRemoteAdapterSuccessCachesResult(t *testing.T) {
	gen := respondWith(tahiniResponse)
	cache := newRecordingCache()
	adapter, _ := newTestAdapter(gen, cache)

	result := adapter.Generate(context.Background(), "tahini", "Tahini", &Context{
		RecipeName:          "hummus",
		DietaryRestrictions: []string{"nut-free"},
	})

	if result.Source != SourceAI || !result.HasSubstitutions || len(result.Substitutions) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.IngredientCategory != "condiment" || result.Notes != "Seed butters work best." {
		t.Errorf("unexpected category/notes: %q / %q", result.IngredientCategory, result.Notes)
	}

	first := result.Substitutions[0]
	if first.OriginalIngredient != "Tahini" || first.Source != SourceAI {
		t.Errorf("unexpected original/source: %q / %s", first.OriginalIngredient, first.Source)
	}
	if first.FlavorImpact != ImpactMinimal || first.TextureImpact != ImpactNone {
		t.Errorf("unexpected impacts: %q / %q", first.FlavorImpact, first.TextureImpact)
	}

	second := result.Substitutions[1]
	if second.ConfidenceScore != ConfidenceLow.DefaultScore() {
		t.Errorf("missing confidence_score should default from level, got %v", second.ConfidenceScore)
	}
	if len(second.BestFor) != 1 || second.BestFor[0] != "sauces" {
		t.Errorf("single string best_for should become a list, got %v", second.BestFor)
	}

	cached, ok := cache.puts["tahini"]
	if !ok {
		t.Fatal("expected result to be cached under normalized key")
	}
	if cached == result {
		t.Fatal("cache should hold its own copy")
	}

	req := gen.calls[0]
	if req.Ingredient != "Tahini" || req.RecipeName != "hummus" || req.CookingMethod != "general cooking" {
		t.Errorf("unexpected request: %+v", req)
	}
	if len(req.DietaryRestrictions) != 1 || req.DietaryRestrictions[0] != "nut-free" {
		t.Errorf("dietary restrictions not forwarded: %v", req.DietaryRestrictions)
	}
}

func TestRemoteAdapterDegradesOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		gen      Generator
		noteHint string
	}{
		{
			name:     "disabled",
			gen:      nil,
			noteHint: "not available",
		},
		{
			name: "transport error",
			gen: &fakeGenerator{generate: func(context.Context, GenerationRequest) (string, error) {
				return "", errors.New("connection refused")
			}},
			noteHint: "temporarily unavailable",
		},
		{
			name:     "no json",
			gen:      respondWith("I cannot help with that."),
			noteHint: "Could not understand",
		},
		{
			name:     "broken json",
			gen:      respondWith(`{"substitutions": [ {"substitute_ingredient": }`),
			noteHint: "Could not understand",
		},
		{
			name:     "missing substitutions",
			gen:      respondWith(`{"ingredient_category": "spice"}`),
			noteHint: "Could not understand",
		},
		{
			name: "empty response",
			gen: &fakeGenerator{generate: func(context.Context, GenerationRequest) (string, error) {
				return "", common.ErrEmptyAIResponse
			}},
			noteHint: "Could not understand",
		},
		{
			name: "timeout",
			gen: &fakeGenerator{generate: func(ctx context.Context, _ GenerationRequest) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
			noteHint: "took too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newRecordingCache()
			clk := clock.NewFake(ruleTime)
			adapter := NewRemoteAdapter(tt.gen, cache, Options{Clock: clk, GenerationTimeout: 20 * time.Millisecond})

			result := adapter.Generate(context.Background(), "tahini", "tahini", nil)
			if result == nil {
				t.Fatal("expected a result")
			}
			if result.HasSubstitutions || len(result.Substitutions) != 0 || result.Substitutions == nil {
				t.Fatalf("expected empty substitutions, got %+v", result.Substitutions)
			}
			if result.Source != SourceAI {
				t.Errorf("source = %s, want ai", result.Source)
			}
			if !strings.Contains(result.Notes, tt.noteHint) {
				t.Errorf("notes %q do not mention %q", result.Notes, tt.noteHint)
			}
			if len(cache.puts) != 0 {
				t.Error("failures must not be cached")
			}
		})
	}
}

func TestRemoteAdapterCanceledCaller(t *testing.T) {
	gen := &fakeGenerator{generate: func(ctx context.Context, _ GenerationRequest) (string, error) {
		return "", ctx.Err()
	}}
	adapter, _ := newTestAdapter(gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := adapter.Generate(ctx, "tahini", "tahini", nil)
	if result.HasSubstitutions || !strings.Contains(result.Notes, "cancelled") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRemoteAdapterCachesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{generate: func(context.Context, GenerationRequest) (string, error) {
		cancel()
		return tahiniResponse, nil
	}}
	cache := newRecordingCache()
	adapter, _ := newTestAdapter(gen, cache)

	result := adapter.Generate(ctx, "tahini", "tahini", nil)
	if !result.HasSubstitutions {
		t.Fatal("completed generation should still be returned")
	}
	if len(cache.ctxs) != 1 {
		t.Fatal("completed generation should still be cached")
	}
	if err := cache.ctxs[0].Err(); err != nil {
		t.Fatalf("cache write context should not be canceled: %v", err)
	}
}

func TestRemoteAdapterEmptyListIsNotAFailure(t *testing.T) {
	cache := newRecordingCache()
	adapter, _ := newTestAdapter(respondWith(`{"substitutions": []}`), cache)

	result := adapter.Generate(context.Background(), "saffron", "saffron", nil)
	if result.HasSubstitutions || result.Notes == "" {
		t.Fatalf("expected empty result with notes, got %+v", result)
	}
	if _, ok := cache.puts["saffron"]; !ok {
		t.Fatal("a well-formed empty answer should be cached")
	}
}

func TestParseGeneratedResultLenientFields(t *testing.T) {
	content := `{
	  "substitutions": [
	    {"substitute_ingredient": "maple syrup", "confidence_score": "85%", "ratio": 1},
	    {"substitute_ingredient": "agave", "confidence_score": 70},
	    {"substitute_ingredient": "sugar", "confidence": "HIGH", "confidence_score": "n/a"},
	    {"substitute_ingredient": "molasses", "confidence": "certain", "confidence_score": 0.3, "flavor_impact": "very strong"},
	    {"substitute_ingredient": "  ", "confidence": "high"},
	    {"substitute_ingredient": "stevia", "confidence_score": -2, "best_for": null}
	  ]
	}`

	result, err := parseGeneratedResult(content, "honey", ruleTime)
	if err != nil {
		t.Fatalf("parseGeneratedResult: %v", err)
	}
	if len(result.Substitutions) != 5 {
		t.Fatalf("expected blank substitute to be dropped, got %d", len(result.Substitutions))
	}

	tests := []struct {
		name       string
		confidence Confidence
		score      float64
	}{
		{"maple syrup", ConfidenceHigh, 0.85},
		{"agave", ConfidenceMedium, 0.7},
		{"sugar", ConfidenceHigh, 0.9},
		{"molasses", ConfidenceLow, 0.3},
		{"stevia", ConfidenceLow, 0},
	}
	for i, tt := range tests {
		got := result.Substitutions[i]
		if got.SubstituteIngredient != tt.name {
			t.Fatalf("substitution %d = %q, want %q", i, got.SubstituteIngredient, tt.name)
		}
		if got.Confidence != tt.confidence || got.ConfidenceScore != tt.score {
			t.Errorf("%s: confidence = %s/%v, want %s/%v", tt.name, got.Confidence, got.ConfidenceScore, tt.confidence, tt.score)
		}
	}

	if result.Substitutions[0].Ratio != "1" {
		t.Errorf("numeric ratio should be kept as text, got %q", result.Substitutions[0].Ratio)
	}
	if result.Substitutions[3].FlavorImpact != "" {
		t.Errorf("unknown impact should be dropped, got %q", result.Substitutions[3].FlavorImpact)
	}
}

func TestParseGeneratedResultUnquotedKeys(t *testing.T) {
	content := "```json\n{substitutions: [{substitute_ingredient: \"sunflower seed butter\", confidence: \"medium\"}], notes: \"nut-free\"}\n```"

	result, err := parseGeneratedResult(content, "tahini", ruleTime)
	if err != nil {
		t.Fatalf("parseGeneratedResult: %v", err)
	}
	if len(result.Substitutions) != 1 || result.Substitutions[0].SubstituteIngredient != "sunflower seed butter" {
		t.Fatalf("unexpected substitutions: %+v", result.Substitutions)
	}
	if result.Substitutions[0].ConfidenceScore != ConfidenceMedium.DefaultScore() {
		t.Errorf("score = %v, want medium default", result.Substitutions[0].ConfidenceScore)
	}
	if result.Notes != "nut-free" {
		t.Errorf("notes = %q", result.Notes)
	}
}

func TestParseGeneratedResultNonFiniteScores(t *testing.T) {
	tests := []struct {
		name       string
		score      string
		confidence string
		want       Confidence
	}{
		{name: "NaN with level", score: `"NaN"`, confidence: `"high"`, want: ConfidenceHigh},
		{name: "NaN without level", score: `"nan"`, confidence: `null`, want: ConfidenceLow},
		{name: "Infinity", score: `"Infinity"`, confidence: `"medium"`, want: ConfidenceMedium},
		{name: "negative Inf", score: `"-Inf"`, confidence: `"low"`, want: ConfidenceLow},
		{name: "Inf percent", score: `"+Inf%"`, confidence: `"high"`, want: ConfidenceHigh},
		{name: "overflow", score: `1e400`, confidence: `"medium"`, want: ConfidenceMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `{"substitutions": [{"substitute_ingredient": "cashew butter", "confidence": ` +
				tt.confidence + `, "confidence_score": ` + tt.score + `}]}`

			result, err := parseGeneratedResult(content, "tahini", ruleTime)
			if err != nil {
				t.Fatalf("parseGeneratedResult: %v", err)
			}
			got := result.Substitutions[0]
			if math.IsNaN(got.ConfidenceScore) || math.IsInf(got.ConfidenceScore, 0) {
				t.Fatalf("score must be finite, got %v", got.ConfidenceScore)
			}
			if got.Confidence != tt.want || got.ConfidenceScore != tt.want.DefaultScore() {
				t.Errorf("confidence = %s/%v, want %s/%v", got.Confidence, got.ConfidenceScore, tt.want, tt.want.DefaultScore())
			}
			if _, err := json.Marshal(result); err != nil {
				t.Errorf("result must encode: %v", err)
			}
		})
	}
}

func TestRemoteAdapterCachesOnlyFiniteScores(t *testing.T) {
	cache := newRecordingCache()
	gen := respondWith(`{"substitutions": [
		{"substitute_ingredient": "cashew butter", "confidence_score": "NaN"},
		{"substitute_ingredient": "sunflower seed butter", "confidence_score": 0.9}
	]}`)
	adapter, _ := newTestAdapter(gen, cache)

	result := adapter.Generate(context.Background(), "tahini", "tahini", nil)
	if len(result.Substitutions) != 2 {
		t.Fatalf("expected both substitutions, got %+v", result.Substitutions)
	}
	cached, ok := cache.puts["tahini"]
	if !ok {
		t.Fatal("expected the result to be cached")
	}
	for _, sub := range cached.Substitutions {
		if math.IsNaN(sub.ConfidenceScore) {
			t.Fatalf("cached %q with a NaN score", sub.SubstituteIngredient)
		}
	}
	if _, err := json.Marshal(cached); err != nil {
		t.Fatalf("cached result must encode: %v", err)
	}
}

func TestParseGeneratedResultPercentHeuristic(t *testing.T) {
	content := `{"substitutions": [
		{"substitute_ingredient": "maple syrup", "confidence_score": 8},
		{"substitute_ingredient": "agave", "confidence_score": "0.8%"},
		{"substitute_ingredient": "sugar", "confidence_score": 1}
	]}`

	result, err := parseGeneratedResult(content, "honey", ruleTime)
	if err != nil {
		t.Fatalf("parseGeneratedResult: %v", err)
	}
	want := []float64{0.08, 0.008, 1}
	for i, w := range want {
		if got := result.Substitutions[i].ConfidenceScore; math.Abs(got-w) > 1e-9 {
			t.Errorf("%s score = %v, want %v", result.Substitutions[i].SubstituteIngredient, got, w)
		}
	}
}
