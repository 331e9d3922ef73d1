package api

import (
	"time"

	"substitution-engine/internal/api/handlers/health"
	substitutionHandler "substitution-engine/internal/api/handlers/substitution"
	"substitution-engine/internal/api/middleware"
	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// 請求體大小限制 (1MB)
	maxBodySize = 1 << 20
)

// SetupRouter 設置路由；queue 為 nil 表示未啟用遠端生成
func SetupRouter(cfg *config.Config, engine *substitution.Engine, queue health.QueueReporter) *gin.Engine {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New()) // 自動生成請求 ID

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 健康檢查路由
	healthHandler := health.NewHandler(cfg, engine, queue)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	// API 路由組
	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	// 解析為唯讀查詢，重送不需攔截
	api.Use(middleware.NewDeduplicator(cfg.DedupWindow, "/api/v1/substitutions/resolve").Middleware())
	api.Use(middleware.Timeout(requestTimeout(cfg)))

	substitutionHandler.NewHandler(engine, cfg.Substitution.MaxBatchSize, cfg.App.Debug).
		Register(api.Group("/substitutions"))

	router.NoRoute(func(c *gin.Context) {
		common.WriteError(c, common.ErrNotFound, false)
	})

	common.LogInfo("Router setup completed successfully",
		zap.Int("rules", engine.RuleCount()),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("generator_enabled", queue != nil),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router
}

// requestTimeout 以伺服器寫入逾時為上限
func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.WriteTimeout > 0 {
		return cfg.Server.WriteTimeout
	}
	return 2 * cfg.Substitution.GenerationTimeout
}
