package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"substitution-engine/internal/api"
	"substitution-engine/internal/api/handlers/health"
	"substitution-engine/internal/core/ai/cache"
	"substitution-engine/internal/core/ai/openrouter"
	"substitution-engine/internal/core/ai/queue"
	aiservice "substitution-engine/internal/core/ai/service"
	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/infrastructure/ruledata"
	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 載入 .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	// 載入設定
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.Bool("openrouter_enabled", cfg.OpenRouter.Enabled),
		zap.String("openrouter_model", cfg.OpenRouter.Model),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("rules_source", cfg.Substitution.RulesSource),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystemClock()

	// 靜態規則表
	rules, err := ruledata.NewLoader(cfg.Substitution).LoadTable(ctx, cfg.Substitution.RulesSource)
	if err != nil {
		common.LogFatal("Failed to load substitution rules", zap.Error(err))
	}

	// 初始化快取
	resultCache, closeCache, err := buildCache(ctx, cfg.Cache, clk)
	if err != nil {
		common.LogFatal("Failed to initialize cache", zap.Error(err))
	}
	defer closeCache()

	// 遠端生成：OpenRouter -> 隊列 -> 生成服務
	var (
		generator substitution.Generator
		reporter  health.QueueReporter
	)
	if cfg.OpenRouter.Enabled {
		client := openrouter.NewClient(cfg.OpenRouter)
		defer client.Close()
		if client.GetTimeout() > cfg.Substitution.GenerationTimeout {
			common.LogWarn("OpenRouter 超時長於單一食材生成時限，以生成時限為準",
				zap.Duration("provider_timeout", client.GetTimeout()),
				zap.Duration("generation_timeout", cfg.Substitution.GenerationTimeout),
			)
		}

		requestQueue := queue.NewManager(cfg.Queue, client)
		requestQueue.Start()
		defer requestQueue.Close()

		generator = aiservice.NewService(cfg.OpenRouter, requestQueue)
		reporter = requestQueue
	} else {
		common.LogWarn("OpenRouter 未啟用，僅使用靜態規則與快取")
	}

	engine := substitution.NewEngine(rules, resultCache, generator, substitution.Options{
		BatchConcurrency:     cfg.Substitution.BatchConcurrency,
		GenerationTimeout:    cfg.Substitution.GenerationTimeout,
		DefaultRecipeName:    cfg.Substitution.DefaultRecipeName,
		DefaultCookingMethod: cfg.Substitution.DefaultCookingMethod,
		Clock:                clk,
	})

	// Redis 後端沒有背景清理，由這裡定期呼叫
	if cfg.Cache.Enabled && cfg.Cache.Backend == config.CacheBackendRedis {
		go sweepPeriodically(ctx, engine, cfg.Cache.CleanupInterval)
	}

	router := api.SetupRouter(cfg, engine, reporter)

	// 設置 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.Int("port", cfg.Server.Port),
			zap.Int("rules", engine.RuleCount()),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中斷信號
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		common.LogError("Failed to start server", zap.Error(err))
		return
	}

	common.LogInfo("Shutting down server...")

	// 設置關閉超時
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
	}

	common.LogInfo("Server exited")
}

// buildCache 依設定建立快取後端；停用時回傳 nil
func buildCache(ctx context.Context, cfg config.CacheConfig, clk clock.Clock) (substitution.Cache, func(), error) {
	if !cfg.Enabled {
		common.LogWarn("快取已停用")
		return nil, func() {}, nil
	}

	switch cfg.Backend {
	case config.CacheBackendRedis:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := cache.NewRedisStore(connectCtx, cfg, clk)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		manager := cache.NewManager(cache.SettingsFromConfig(cfg), clk)
		return manager, func() { _ = manager.Close() }, nil
	}
}

func sweepPeriodically(ctx context.Context, engine *substitution.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := engine.SweepExpiredCache(ctx); n > 0 {
				common.LogInfo("Swept expired cache entries", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
