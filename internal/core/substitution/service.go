package substitution

import (
	"context"
	"fmt"
	"time"

	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options 引擎設定
type Options struct {
	BatchConcurrency     int
	GenerationTimeout    time.Duration
	DefaultRecipeName    string
	DefaultCookingMethod string
	Clock                clock.Clock
}

func (o Options) withDefaults() Options {
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 4
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 20 * time.Second
	}
	if o.DefaultRecipeName == "" {
		o.DefaultRecipeName = "unknown recipe"
	}
	if o.DefaultCookingMethod == "" {
		o.DefaultCookingMethod = "general cooking"
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystemClock()
	}
	return o
}

// Engine 替代食材解析的唯一入口：靜態規則 -> 快取 -> 遠端生成，最後套用可取得性排序
type Engine struct {
	rules            *StaticTable
	cache            Cache
	remote           *RemoteAdapter
	clock            clock.Clock
	batchConcurrency int
}

// NewEngine 創建引擎；cache 與 generator 可為 nil（停用該層）
func NewEngine(rules *StaticTable, cache Cache, generator Generator, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		rules:            rules,
		cache:            cache,
		remote:           NewRemoteAdapter(generator, cache, opts),
		clock:            opts.Clock,
		batchConcurrency: opts.BatchConcurrency,
	}
}

// Resolve 解析單一食材，永遠回傳格式完整的結果
func (e *Engine) Resolve(ctx context.Context, ingredient string, c *Context) *Result {
	var inventory []string
	if c != nil {
		inventory = c.UserIngredients
	}

	result := e.resolveTier(ctx, ingredient, c)
	metrics.ObserveResolution(string(result.Source))
	return Annotate(result, inventory)
}

func (e *Engine) resolveTier(ctx context.Context, ingredient string, c *Context) *Result {
	key := Normalize(ingredient)
	if key == "" {
		result := newResult(ingredient, nil, SourceStatic, e.clock.Now())
		result.Notes = fmt.Sprintf("%q does not name an ingredient to look up.", ingredient)
		return result
	}

	if result, ok := e.rules.Lookup(key, ingredient, e.clock.Now()); ok {
		common.LogDebug("Static substitution rule matched",
			zap.String("ingredient", ingredient),
			zap.String("key", key),
			zap.Int("substitutions", len(result.Substitutions)),
		)
		return result
	}

	if e.cache != nil {
		if result, ok := e.cache.Get(ctx, key); ok {
			// 快取以正規化鍵共用，回傳時以本次原文為準
			result.Ingredient = ingredient
			for i := range result.Substitutions {
				result.Substitutions[i].OriginalIngredient = ingredient
			}
			return result
		}
	}

	return e.remote.Generate(ctx, key, ingredient, c)
}

// ResolveBatch 並行解析多個食材（上限 BatchConcurrency），結果順序與輸入一致
func (e *Engine) ResolveBatch(ctx context.Context, ingredients []string, c *Context) []*Result {
	results := make([]*Result, len(ingredients))
	if len(ingredients) == 0 {
		return results
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(e.batchConcurrency)
	for i, ingredient := range ingredients {
		i, ingredient := i, ingredient
		g.Go(func() error {
			results[i] = e.Resolve(ctx, ingredient, c)
			return nil
		})
	}
	_ = g.Wait()

	common.LogInfo("Batch substitution resolved",
		zap.Int("count", len(ingredients)),
		zap.Int("concurrency", e.batchConcurrency),
		zap.Duration("耗時", time.Since(start)),
	)
	return results
}

// CacheStats 快取觀測數據，無副作用
func (e *Engine) CacheStats(ctx context.Context) CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats(ctx)
}

// CacheHitRate 只回報命中率；快取支援 HitRater 時不走訪條目
func (e *Engine) CacheHitRate(ctx context.Context) float64 {
	if e.cache == nil {
		return 0
	}
	if r, ok := e.cache.(HitRater); ok {
		return r.HitRate()
	}
	return e.cache.Stats(ctx).HitRate
}

// SweepExpiredCache 清除過期快取並回傳數量，可任意排程呼叫
func (e *Engine) SweepExpiredCache(ctx context.Context) int {
	if e.cache == nil {
		return 0
	}
	return e.cache.SweepExpired(ctx)
}

// RuleCount 已載入的靜態規則數
func (e *Engine) RuleCount() int {
	return e.rules.Len()
}
