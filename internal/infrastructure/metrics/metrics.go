package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "substitution"

var (
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Ingredient resolutions by the tier that produced the result.",
	}, []string{"source"})

	generationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_failures_total",
		Help:      "Remote generation failures degraded into empty results, by reason.",
	}, []string{"reason"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Latency of remote substitution generation calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operations_total",
		Help:      "Resolution cache operations (hit, miss, store, expire, evict).",
	}, []string{"op"})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries currently held by the resolution cache.",
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generation_queue_length",
		Help:      "Remote generation requests waiting for a worker.",
	})
)

// ObserveResolution 記錄一次解析結果來源
func ObserveResolution(source string) {
	resolutions.WithLabelValues(source).Inc()
}

// ObserveGeneration 記錄遠端生成耗時；reason 非空時計為失敗
func ObserveGeneration(d time.Duration, reason string) {
	generationDuration.Observe(d.Seconds())
	if reason != "" {
		generationFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveCache 記錄快取操作
func ObserveCache(op string) {
	cacheOperations.WithLabelValues(op).Inc()
}

// SetCacheEntries 更新快取條目數
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// SetQueueLength 更新等待中的生成請求數
func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

// Handler 指標輸出 handler
func Handler() http.Handler {
	return promhttp.Handler()
}
