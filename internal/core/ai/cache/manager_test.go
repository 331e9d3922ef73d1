package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/pkg/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResult(ingredient string) *substitution.Result {
	return &substitution.Result{
		Ingredient:         ingredient,
		IngredientCategory: "condiment",
		HasSubstitutions:   true,
		Substitutions: []substitution.Substitution{
			{
				OriginalIngredient:   ingredient,
				SubstituteIngredient: "sunflower seed butter",
				Confidence:           substitution.ConfidenceHigh,
				ConfidenceScore:      0.85,
				Reason:               "similar nutty paste",
				BestFor:              []string{"dressings"},
				Source:               substitution.SourceAI,
			},
		},
		GeneratedAt: epoch,
		Source:      substitution.SourceAI,
	}
}

func newTestManager(maxSize int) (*CacheManager, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return NewManager(CacheSettings{MaxSize: maxSize, TTL: 24 * time.Hour}, clk), clk
}

func TestManagerRoundTripRewritesSource(t *testing.T) {
	m, _ := newTestManager(10)
	ctx := context.Background()

	m.Put(ctx, "tahini", sampleResult("tahini"))

	got, ok := m.Get(ctx, "tahini")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Source != substitution.SourceCached {
		t.Errorf("expected result source cached, got %s", got.Source)
	}
	sub := got.Substitutions[0]
	if sub.Source != substitution.SourceCached {
		t.Errorf("expected substitution source cached, got %s", sub.Source)
	}
	if sub.ConfidenceScore != 0.85 || sub.Reason != "similar nutty paste" {
		t.Errorf("cached content changed: %+v", sub)
	}
}

func TestManagerReturnsCopies(t *testing.T) {
	m, _ := newTestManager(10)
	ctx := context.Background()

	original := sampleResult("tahini")
	m.Put(ctx, "tahini", original)
	original.Substitutions[0].Reason = "mutated after put"

	first, _ := m.Get(ctx, "tahini")
	first.Substitutions[0].Reason = "mutated by caller"
	first.Substitutions[0].BestFor[0] = "mutated"

	second, _ := m.Get(ctx, "tahini")
	if second.Substitutions[0].Reason != "similar nutty paste" {
		t.Fatalf("cache entry was mutated through a returned value: %q", second.Substitutions[0].Reason)
	}
	if second.Substitutions[0].BestFor[0] != "dressings" {
		t.Fatalf("cache entry slice was mutated: %v", second.Substitutions[0].BestFor)
	}
}

func TestManagerLazyExpiry(t *testing.T) {
	m, clk := newTestManager(10)
	ctx := context.Background()

	m.Put(ctx, "tahini", sampleResult("tahini"))

	clk.Advance(24 * time.Hour)
	if _, ok := m.Get(ctx, "tahini"); !ok {
		t.Fatal("entry should still be valid exactly at the ttl boundary")
	}

	clk.Advance(time.Millisecond)
	if _, ok := m.Get(ctx, "tahini"); ok {
		t.Fatal("expected entry to be expired")
	}
	if stats := m.Stats(ctx); stats.Total != 0 {
		t.Fatalf("expected expired entry to be deleted by get, total=%d", stats.Total)
	}
}

func TestManagerSweepAndStats(t *testing.T) {
	m, clk := newTestManager(10)
	ctx := context.Background()

	m.Put(ctx, "old-1", sampleResult("old-1"))
	m.Put(ctx, "old-2", sampleResult("old-2"))
	clk.Advance(12 * time.Hour)
	m.Put(ctx, "new", sampleResult("new"))
	clk.Advance(13 * time.Hour)

	m.Get(ctx, "new")
	m.Get(ctx, "missing")

	stats := m.Stats(ctx)
	if stats.Total != 3 || stats.Valid != 1 || stats.Expired != 2 {
		t.Fatalf("unexpected stats before sweep: %+v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", stats.HitRate)
	}

	if n := m.SweepExpired(ctx); n != 2 {
		t.Fatalf("expected 2 swept entries, got %d", n)
	}
	if n := m.SweepExpired(ctx); n != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %d", n)
	}

	stats = m.Stats(ctx)
	if stats.Total != 1 || stats.Valid != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats after sweep: %+v", stats)
	}
}

func TestManagerStatsHasNoSideEffects(t *testing.T) {
	m, clk := newTestManager(10)
	ctx := context.Background()

	m.Put(ctx, "tahini", sampleResult("tahini"))
	clk.Advance(25 * time.Hour)

	for i := 0; i < 3; i++ {
		stats := m.Stats(ctx)
		if stats.Total != 1 || stats.Expired != 1 || stats.HitRate != 0 {
			t.Fatalf("stats changed cache state: %+v", stats)
		}
	}
}

func TestManagerEvictsLeastUsedWhenFull(t *testing.T) {
	m, clk := newTestManager(2)
	ctx := context.Background()

	m.Put(ctx, "a", sampleResult("a"))
	clk.Advance(time.Second)
	m.Put(ctx, "b", sampleResult("b"))
	m.Get(ctx, "a")

	m.Put(ctx, "c", sampleResult("c"))

	if _, ok := m.Get(ctx, "b"); ok {
		t.Fatal("expected least used entry b to be evicted")
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := m.Get(ctx, "c"); !ok {
		t.Fatal("expected c to be stored")
	}
}

func TestManagerFullPrefersExpiredEntries(t *testing.T) {
	m, clk := newTestManager(2)
	ctx := context.Background()

	m.Put(ctx, "stale", sampleResult("stale"))
	clk.Advance(23 * time.Hour)
	m.Put(ctx, "fresh", sampleResult("fresh"))
	clk.Advance(2 * time.Hour)

	m.Put(ctx, "newest", sampleResult("newest"))

	if _, ok := m.Get(ctx, "fresh"); !ok {
		t.Fatal("expected fresh entry to survive; expired entry should have been swept instead")
	}
}

func TestManagerOverwriteDoesNotEvict(t *testing.T) {
	m, _ := newTestManager(1)
	ctx := context.Background()

	m.Put(ctx, "a", sampleResult("a"))
	m.Put(ctx, "a", sampleResult("a"))

	if stats := m.Stats(ctx); stats.Total != 1 {
		t.Fatalf("expected single entry, got %d", stats.Total)
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("expected overwritten entry to be present")
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m, _ := newTestManager(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			for j := 0; j < 50; j++ {
				m.Put(ctx, key, sampleResult(key))
				m.Get(ctx, key)
				m.Stats(ctx)
				m.SweepExpired(ctx)
			}
		}(i)
	}
	wg.Wait()

	if stats := m.Stats(ctx); stats.Total != 5 {
		t.Fatalf("expected 5 entries, got %d", stats.Total)
	}
}

func TestManagerCloseStopsCleanup(t *testing.T) {
	m := NewManager(CacheSettings{MaxSize: 10, TTL: time.Hour, CleanupInterval: time.Millisecond}, nil)
	m.Put(context.Background(), "a", sampleResult("a"))

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if stats := m.Stats(context.Background()); stats.Total != 0 {
		t.Fatalf("expected empty cache after close, got %d", stats.Total)
	}
}
