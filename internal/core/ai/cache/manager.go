package cache

import (
	"context"
	"sync"
	"time"

	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"

	"go.uber.org/zap"
)

// CacheManager 記憶體緩存管理器，實作 substitution.Cache
type CacheManager struct {
	config CacheSettings
	clock  clock.Clock
	mu     sync.Mutex
	store  map[string]cacheEntry
	stats  cacheStats
	done   chan struct{}
	once   sync.Once
}

// CacheSettings 記憶體快取參數
type CacheSettings struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SettingsFromConfig 由設定檔轉換
func SettingsFromConfig(cfg config.CacheConfig) CacheSettings {
	return CacheSettings{
		MaxSize:         cfg.MaxSize,
		TTL:             cfg.TTL,
		CleanupInterval: cfg.CleanupInterval,
	}
}

// cacheEntry 緩存條目，寫入後不再修改結果內容
type cacheEntry struct {
	Key         string               `json:"key"`
	Result      *substitution.Result `json:"result"`
	CachedAt    time.Time            `json:"cached_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	lastAccess  time.Time
	accessCount int
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// cacheStats 緩存統計
type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
}

func (s cacheStats) hitRate() float64 {
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

// NewManager 創建新的緩存管理器；CleanupInterval > 0 時啟動背景清理
func NewManager(settings CacheSettings, clk clock.Clock) *CacheManager {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if settings.TTL <= 0 {
		settings.TTL = 24 * time.Hour
	}

	m := &CacheManager{
		config: settings,
		clock:  clk,
		store:  make(map[string]cacheEntry),
		done:   make(chan struct{}),
	}

	if settings.CleanupInterval > 0 {
		go m.startCleanup()
	}

	common.LogInfo("快取管理員已初始化",
		zap.Int("最大容量", settings.MaxSize),
		zap.Duration("存活時間", settings.TTL),
		zap.Duration("清理間隔", settings.CleanupInterval),
	)

	return m
}

// Get 獲取緩存值；過期條目立即刪除。回傳的結果為複本，來源標記為 cached
func (m *CacheManager) Get(ctx context.Context, key string) (*substitution.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.store[key]
	if !exists {
		m.stats.misses++
		metrics.ObserveCache("miss")
		common.LogCacheMiss("memory", key)
		return nil, false
	}

	now := m.clock.Now()
	if entry.expired(now) {
		delete(m.store, key)
		m.stats.misses++
		m.stats.evictions++
		metrics.ObserveCache("expire")
		metrics.SetCacheEntries(len(m.store))
		common.LogDebug("快取已過期", zap.String("鍵", key))
		return nil, false
	}

	entry.lastAccess = now
	entry.accessCount++
	m.store[key] = entry
	m.stats.hits++
	metrics.ObserveCache("hit")
	common.LogCacheHit("memory", key)

	return entry.Result.Clone().WithSource(substitution.SourceCached), true
}

// Put 設置緩存值；容量已滿時先清除過期條目，再淘汰最少使用的條目
func (m *CacheManager) Put(ctx context.Context, key string, result *substitution.Result) {
	if result == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && m.config.MaxSize > 0 && len(m.store) >= m.config.MaxSize {
		evicted := m.cleanup()
		if len(m.store) >= m.config.MaxSize {
			m.evictLRU()
		}
		common.LogDebug("快取清理執行", zap.Int("清理數量", evicted))
	}

	now := m.clock.Now()
	m.store[key] = cacheEntry{
		Key:        key,
		Result:     result.Clone(),
		CachedAt:   now,
		ExpiresAt:  now.Add(m.config.TTL),
		lastAccess: now,
	}
	metrics.ObserveCache("store")
	metrics.SetCacheEntries(len(m.store))

	common.LogDebug("快取已儲存", zap.String("鍵", key))
}

// SweepExpired 清除所有過期條目
func (m *CacheManager) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanup()
}

// Stats 快取統計，不更動任何條目
func (m *CacheManager) Stats(ctx context.Context) substitution.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	stats := substitution.CacheStats{Total: len(m.store), HitRate: m.stats.hitRate()}
	for _, entry := range m.store {
		if entry.expired(now) {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}

// startCleanup 定期清理過期緩存，直到 Close
func (m *CacheManager) startCleanup() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepExpired(context.Background())
		case <-m.done:
			return
		}
	}
}

// cleanup 清理過期的緩存，呼叫者需持有鎖
func (m *CacheManager) cleanup() int {
	now := m.clock.Now()
	count := 0

	for key, entry := range m.store {
		if entry.expired(now) {
			delete(m.store, key)
			count++
			m.stats.evictions++
			metrics.ObserveCache("expire")
		}
	}

	if count > 0 {
		metrics.SetCacheEntries(len(m.store))
		common.LogInfo("Cleaned up expired cache entries",
			zap.Int("count", count),
			zap.Int64("total_evictions", m.stats.evictions),
			zap.Int("remaining_size", len(m.store)),
		)
	}

	return count
}

// evictLRU 淘汰訪問次數最少、最久未訪問的條目
func (m *CacheManager) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	var lowestAccessCount int

	for key, entry := range m.store {
		if oldestKey == "" ||
			entry.accessCount < lowestAccessCount ||
			(entry.accessCount == lowestAccessCount && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowestAccessCount = entry.accessCount
		}
	}

	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
		metrics.ObserveCache("evict")
		common.LogDebug("快取已淘汰(LRU)", zap.String("鍵", oldestKey))
	}
}

// Close 停止背景清理並清空緩存
func (m *CacheManager) Close() error {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()

	m.store = make(map[string]cacheEntry)
	metrics.SetCacheEntries(0)
	common.LogInfo("快取管理員已關閉",
		zap.Int64("命中次數", m.stats.hits),
		zap.Int64("未命中次數", m.stats.misses),
		zap.Int64("淘汰次數", m.stats.evictions),
	)
	return nil
}
