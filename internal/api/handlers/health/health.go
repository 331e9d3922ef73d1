package health

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"substitution-engine/internal/core/ai/queue"
	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/pkg/common"

	"github.com/gin-gonic/gin"
)

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime"`
	Rules     int                      `json:"rules"`
	Cache     *substitution.CacheStats `json:"cache,omitempty"`
	HitRate   *float64                 `json:"cache_hit_rate,omitempty"`
	Queue     *queue.Status            `json:"queue,omitempty"`
	Generator string                   `json:"generator"`
}

var errRulesNotLoaded = errors.New("substitution rules not loaded")

// QueueReporter 提供隊列狀態
type QueueReporter interface {
	GetQueueStatus() *queue.Status
}

// Handler 健康檢查處理器
type Handler struct {
	config *config.Config
	engine *substitution.Engine
	queue  QueueReporter
}

// NewHandler 創建健康檢查處理器；queue 可為 nil（未啟用遠端生成）
func NewHandler(cfg *config.Config, engine *substitution.Engine, q QueueReporter) *Handler {
	return &Handler{config: cfg, engine: engine, queue: q}
}

// HealthCheck 健康檢查
func (h *Handler) HealthCheck(c *gin.Context) {
	// 獲取運行時信息
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.config.App.Version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
		Rules:     h.engine.RuleCount(),
		Generator: "disabled",
	}

	if h.config.Cache.Enabled {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		// Redis 統計需掃描全部鍵，健康檢查只回報命中率
		if h.config.Cache.Backend == config.CacheBackendRedis {
			rate := h.engine.CacheHitRate(ctx)
			response.HitRate = &rate
		} else {
			stats := h.engine.CacheStats(ctx)
			response.Cache = &stats
		}
	}
	if h.queue != nil {
		response.Queue = h.queue.GetQueueStatus()
		response.Generator = h.config.OpenRouter.Model
	}

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 規則表已載入即視為就緒
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.engine == nil || h.engine.RuleCount() == 0 {
		common.WriteError(c, common.ErrServiceUnavailable.WithErr(errRulesNotLoaded), h.config.App.Debug)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
