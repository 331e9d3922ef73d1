package ruledata

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const smallRules = `
rules:
  - ingredient: butter
    category: dairy
    substitutions:
      - substitute_ingredient: margarine
        confidence: high
        reason: same fat content
`

type fakeS3 struct {
	body   string
	err    error
	bucket string
	key    string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *params.Bucket, *params.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestDefaultRulesCompile(t *testing.T) {
	table, err := NewLoader(config.SubstitutionConfig{}).LoadTable(context.Background(), "")
	if err != nil {
		t.Fatalf("default rules: %v", err)
	}
	if table.Len() < 20 {
		t.Fatalf("expected a populated default table, got %d rules", table.Len())
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		raw      string
		category string
		contains string
	}{
		{"2 tbsp unsalted butter", "dairy", "margarine"},
		{"1 cup buttermilk", "dairy", "milk with lemon juice"},
		{"chunky peanut butter", "spread", "almond butter"},
		{"1 large eggplant, diced", "vegetable", "zucchini"},
		{"3 large eggs", "protein", "flax egg"},
		{"aubergine", "vegetable", "zucchini"},
		{"1 can coconut milk", "dairy alternative", "heavy cream"},
		{"2 cups whole milk", "dairy", "oat milk"},
		{"1/4 cup fresh lemon juice", "acid", "lime juice"},
		{"Parmigiano-Reggiano", "dairy", "pecorino romano"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			result, ok := table.Lookup(substitution.Normalize(tt.raw), tt.raw, now)
			if !ok {
				t.Fatalf("expected a static rule for %q", tt.raw)
			}
			if result.IngredientCategory != tt.category {
				t.Errorf("category = %q, want %q", result.IngredientCategory, tt.category)
			}
			found := false
			for _, s := range result.Substitutions {
				if s.SubstituteIngredient == tt.contains {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %q among substitutes", tt.contains)
			}
		})
	}

	for _, raw := range []string{"tahini", "nonexistent-xyz"} {
		if _, ok := table.Lookup(substitution.Normalize(raw), raw, now); ok {
			t.Errorf("%q should not match a default rule", raw)
		}
	}
}

type unexpectedGenerator struct{ t *testing.T }

func (g unexpectedGenerator) GenerateSubstitutions(context.Context, substitution.GenerationRequest) (string, error) {
	g.t.Errorf("static ingredients must not reach the generator")
	return "", errors.New("unexpected generation")
}

func TestEveryDefaultRuleResolvesStatically(t *testing.T) {
	entries, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	table, err := substitution.NewStaticTable(entries)
	if err != nil {
		t.Fatalf("NewStaticTable: %v", err)
	}
	engine := substitution.NewEngine(table, nil, unexpectedGenerator{t: t}, substitution.Options{})

	for _, e := range entries {
		t.Run(e.Ingredient, func(t *testing.T) {
			result := engine.Resolve(context.Background(), e.Ingredient, nil)
			if result.Source != substitution.SourceStatic {
				t.Fatalf("source = %s, want static", result.Source)
			}
			if result.IngredientCategory != e.Category {
				t.Errorf("category = %q, want %q", result.IngredientCategory, e.Category)
			}
			if len(result.Substitutions) != len(e.Substitutions) {
				t.Fatalf("got %d substitutions, want %d", len(result.Substitutions), len(e.Substitutions))
			}
			for i, want := range e.Substitutions {
				got := result.Substitutions[i]
				wantScore := want.Confidence.DefaultScore()
				if want.ConfidenceScore != nil {
					wantScore = *want.ConfidenceScore
				}
				if got.SubstituteIngredient != want.SubstituteIngredient || got.ConfidenceScore != wantScore {
					t.Errorf("substitution %d = %q/%v, want %q/%v", i, got.SubstituteIngredient, got.ConfidenceScore, want.SubstituteIngredient, wantScore)
				}
				if got.Source != substitution.SourceStatic || got.OriginalIngredient != e.Ingredient {
					t.Errorf("substitution %d source/original = %s/%q", i, got.Source, got.OriginalIngredient)
				}
			}
		})
	}
}

func TestDefaultButterIncludesMargarineAndOil(t *testing.T) {
	entries, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, e := range entries {
		if e.Ingredient != "butter" {
			continue
		}
		var hasMargarine, hasOil bool
		for _, s := range e.Substitutions {
			hasMargarine = hasMargarine || s.SubstituteIngredient == "margarine"
			hasOil = hasOil || strings.HasSuffix(s.SubstituteIngredient, "oil")
		}
		if !hasMargarine || !hasOil {
			t.Fatalf("butter substitutes missing margarine or oil: %+v", e.Substitutions)
		}
		return
	}
	t.Fatal("butter rule not found")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(smallRules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	table, err := NewLoader(config.SubstitutionConfig{}).LoadTable(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", table.Len())
	}
}

func TestLoadFromS3(t *testing.T) {
	fake := &fakeS3{body: smallRules}
	loader := NewLoader(config.SubstitutionConfig{}).WithS3Client(fake)

	entries, err := loader.Load(context.Background(), "s3://kitchen-config/rules/substitutions.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fake.bucket != "kitchen-config" || fake.key != "rules/substitutions.yaml" {
		t.Fatalf("unexpected object: %s/%s", fake.bucket, fake.key)
	}
	if len(entries) != 1 || entries[0].Substitutions[0].SubstituteIngredient != "margarine" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	tests := []struct {
		name    string
		source  string
		s3      *fakeS3
		wantErr string
	}{
		{"missing file", filepath.Join(dir, "missing.yaml"), nil, "failed to read rules file"},
		{"empty file", write("empty.yaml", ""), nil, "empty"},
		{"no rules", write("none.yaml", "rules: []\n"), nil, "no rules"},
		{"unknown field", write("unknown.yaml", "rules:\n  - ingredient: butter\n    colour: yellow\n"), nil, "colour"},
		{"invalid rule", write("invalid.yaml", "rules:\n  - ingredient: butter\n    substitutions:\n      - substitute_ingredient: margarine\n"), nil, "confidence"},
		{"bad s3 uri", "s3://bucket-only", &fakeS3{}, "expected s3://bucket/key"},
		{"s3 failure", "s3://bucket/rules.yaml", &fakeS3{err: errors.New("access denied")}, "access denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(config.SubstitutionConfig{})
			if tt.s3 != nil {
				loader.WithS3Client(tt.s3)
			}
			_, err := loader.LoadTable(context.Background(), tt.source)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := parseS3URI("s3://my-bucket/path/to/rules.yaml")
	if err != nil {
		t.Fatalf("parseS3URI: %v", err)
	}
	if bucket != "my-bucket" || key != "path/to/rules.yaml" {
		t.Fatalf("got %s %s", bucket, key)
	}
}
