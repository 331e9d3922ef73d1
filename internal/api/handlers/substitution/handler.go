package substitution

import (
	"net/http"

	core "substitution-engine/internal/core/substitution"
	"substitution-engine/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BatchRequest 批次替代請求
type BatchRequest struct {
	Ingredients []string      `json:"ingredients"`
	Context     *core.Context `json:"context,omitempty"`
}

// BatchResponse 批次替代結果，順序與請求相同
type BatchResponse struct {
	Results []*core.Result `json:"results"`
}

// SweepResponse 快取清理結果
type SweepResponse struct {
	Evicted int `json:"evicted"`
}

// Handler 替代食材處理程序
type Handler struct {
	engine       *core.Engine
	maxBatchSize int
	debug        bool
}

// NewHandler 創建替代食材處理程序
func NewHandler(engine *core.Engine, maxBatchSize int, debug bool) *Handler {
	return &Handler{engine: engine, maxBatchSize: maxBatchSize, debug: debug}
}

// Register 註冊路由
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/resolve", h.HandleResolve)
	group.POST("/batch", h.HandleBatch)
	group.GET("/cache/stats", h.HandleCacheStats)
	group.POST("/cache/sweep", h.HandleCacheSweep)
}

// HandleResolve 解析單一食材
func (h *Handler) HandleResolve(c *gin.Context) {
	requestID := common.RequestID(c)

	var req core.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogWarn("Invalid substitution request",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		common.WriteError(c, common.ErrInvalidRequest.WithErr(err), h.debug)
		return
	}

	result := h.engine.Resolve(c.Request.Context(), req.Ingredient, req.Context)

	common.LogInfo("Substitution resolved",
		zap.String("request_id", requestID),
		zap.String("ingredient", req.Ingredient),
		zap.String("source", string(result.Source)),
		zap.Int("substitutions", len(result.Substitutions)),
	)
	c.JSON(http.StatusOK, result)
}

// HandleBatch 批次解析
func (h *Handler) HandleBatch(c *gin.Context) {
	requestID := common.RequestID(c)

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteError(c, common.ErrInvalidRequest.WithErr(err), h.debug)
		return
	}
	if len(req.Ingredients) == 0 {
		common.WriteError(c, common.ErrEmptyBatch, h.debug)
		return
	}
	if h.maxBatchSize > 0 && len(req.Ingredients) > h.maxBatchSize {
		common.LogWarn("Batch too large",
			zap.String("request_id", requestID),
			zap.Int("count", len(req.Ingredients)),
			zap.Int("max", h.maxBatchSize),
		)
		common.WriteError(c, common.ErrBatchTooLarge, h.debug)
		return
	}

	results := h.engine.ResolveBatch(c.Request.Context(), req.Ingredients, req.Context)
	c.JSON(http.StatusOK, BatchResponse{Results: results})
}

// HandleCacheStats 快取統計
func (h *Handler) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.CacheStats(c.Request.Context()))
}

// HandleCacheSweep 清除過期快取
func (h *Handler) HandleCacheSweep(c *gin.Context) {
	evicted := h.engine.SweepExpiredCache(c.Request.Context())
	common.LogInfo("Cache sweep requested",
		zap.String("request_id", common.RequestID(c)),
		zap.Int("evicted", evicted),
	)
	c.JSON(http.StatusOK, SweepResponse{Evicted: evicted})
}
