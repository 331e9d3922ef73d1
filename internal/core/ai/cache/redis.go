package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/clock"
	"substitution-engine/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const scanBatch = 200

// RedisStore 以 Redis 儲存的解析快取，多個實例可共用，實作 substitution.Cache
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	clock  clock.Clock
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore 依設定連線 Redis
func NewRedisStore(ctx context.Context, cfg config.CacheConfig, clk clock.Clock) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 測試連接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	common.LogInfo("Redis 快取已連線",
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB),
		zap.Duration("存活時間", cfg.TTL),
	)

	return NewRedisStoreWithClient(client, cfg.TTL, cfg.KeyPrefix, clk), nil
}

// NewRedisStoreWithClient 使用既有的 client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, prefix string, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix, clock: clk}
}

// Get 獲取緩存；過期條目會被刪除
func (s *RedisStore) Get(ctx context.Context, key string) (*substitution.Result, bool) {
	redisKey := s.generateKey(key)

	entry, err := s.load(ctx, redisKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			common.LogWarn("Failed to read cache entry", zap.String("鍵", key), zap.Error(err))
		}
		s.misses.Add(1)
		metrics.ObserveCache("miss")
		common.LogCacheMiss("redis", key)
		return nil, false
	}

	if entry.expired(s.clock.Now()) {
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			common.LogWarn("Failed to delete expired cache entry", zap.String("鍵", key), zap.Error(err))
		}
		s.misses.Add(1)
		metrics.ObserveCache("expire")
		return nil, false
	}

	s.hits.Add(1)
	metrics.ObserveCache("hit")
	common.LogCacheHit("redis", key)
	return entry.Result.WithSource(substitution.SourceCached), true
}

// Put 設置緩存，Redis 端同樣設定 TTL
func (s *RedisStore) Put(ctx context.Context, key string, result *substitution.Result) {
	if result == nil {
		return
	}

	now := s.clock.Now()
	data, err := json.Marshal(cacheEntry{
		Key:       key,
		Result:    result,
		CachedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		common.LogError("Failed to marshal cache entry", zap.String("鍵", key), zap.Error(err))
		return
	}

	if err := s.client.Set(ctx, s.generateKey(key), data, s.ttl).Err(); err != nil {
		common.LogWarn("Failed to store cache entry", zap.String("鍵", key), zap.Error(err))
		return
	}
	metrics.ObserveCache("store")
}

// SweepExpired 掃描前綴下的條目並刪除已過期者
func (s *RedisStore) SweepExpired(ctx context.Context) int {
	now := s.clock.Now()
	count := 0
	err := s.scan(ctx, func(redisKey string, entry *cacheEntry) {
		if entry != nil && !entry.expired(now) {
			return
		}
		if err := s.client.Del(ctx, redisKey).Err(); err == nil {
			count++
			metrics.ObserveCache("expire")
		}
	})
	if err != nil {
		common.LogWarn("Cache sweep interrupted", zap.Error(err), zap.Int("count", count))
	}
	return count
}

// Stats 統計前綴下的條目
func (s *RedisStore) Stats(ctx context.Context) substitution.CacheStats {
	now := s.clock.Now()
	var stats substitution.CacheStats
	err := s.scan(ctx, func(_ string, entry *cacheEntry) {
		stats.Total++
		if entry == nil || entry.expired(now) {
			stats.Expired++
			return
		}
		stats.Valid++
	})
	if err != nil {
		common.LogWarn("Cache stats incomplete", zap.Error(err))
	}

	stats.HitRate = s.HitRate()
	metrics.SetCacheEntries(stats.Total)
	return stats
}

// HitRate 本實例的命中率，不存取 Redis
func (s *RedisStore) HitRate() float64 {
	hits, misses := s.hits.Load(), s.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Close 關閉 Redis 連線
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// scan 逐一走訪前綴下的條目；無法解析的條目以 nil 傳入
func (s *RedisStore) scan(ctx context.Context, fn func(redisKey string, entry *cacheEntry)) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		entry, err := s.load(ctx, redisKey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			fn(redisKey, nil)
			continue
		}
		fn(redisKey, entry)
	}
	return iter.Err()
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (*cacheEntry, error) {
	data, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		return nil, err
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	if entry.Result == nil {
		return nil, fmt.Errorf("cache entry %q has no result", redisKey)
	}
	return &entry, nil
}

// generateKey 生成緩存鍵
func (s *RedisStore) generateKey(key string) string {
	return s.prefix + key
}
