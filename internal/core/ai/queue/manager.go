package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"substitution-engine/internal/core/ai/provider"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/infrastructure/metrics"
	"substitution-engine/internal/pkg/common"

	"go.uber.org/zap"
)

// Request 隊列請求
type Request struct {
	Context context.Context
	Request *provider.Request
	Result  chan Result
}

// Result 處理結果
type Result struct {
	Response *provider.Response
	Error    error
}

// Status 隊列狀態
type Status struct {
	QueueLength    int   `json:"queue_length"`
	ProcessedCount int64 `json:"processed_count"`
	FailedCount    int64 `json:"failed_count"`
	MaxQueueSize   int   `json:"max_queue_size"`
	Workers        int   `json:"workers"`
}

// Manager 隊列管理器：固定數量的 worker 依序呼叫 provider，限制全程序同時進行的遠端請求
type Manager struct {
	config    config.QueueConfig
	provider  provider.Provider
	queue     chan *Request
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
	processed atomic.Int64
	failed    atomic.Int64
}

// NewManager 創建新的隊列管理器
func NewManager(cfg config.QueueConfig, p provider.Provider) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &Manager{
		config:   cfg,
		provider: p,
		queue:    make(chan *Request, cfg.MaxSize),
		done:     make(chan struct{}),
	}
}

// Start 啟動 worker，重複呼叫無效
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for i := 0; i < m.config.Workers; i++ {
			m.wg.Add(1)
			go m.worker(i)
		}
		common.LogInfo("AI 請求隊列已啟動",
			zap.Int("workers", m.config.Workers),
			zap.Int("max_queue_size", m.config.MaxSize),
		)
	})
}

// Enqueue 將請求加入隊列；隊列已滿時立即回傳 ErrQueueFull
func (m *Manager) Enqueue(ctx context.Context, req *provider.Request) (chan Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, common.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queueReq := &Request{
		Context: ctx,
		Request: req,
		Result:  make(chan Result, 1),
	}

	select {
	case m.queue <- queueReq:
		metrics.SetQueueLength(len(m.queue))
		common.LogDebug("Request enqueued",
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.config.MaxSize),
		)
		return queueReq.Result, nil
	default:
		return nil, common.ErrQueueFull
	}
}

// Submit 加入隊列並等待結果
func (m *Manager) Submit(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	resultCh, err := m.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	select {
	case result := <-resultCh:
		return result.Response, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	for {
		select {
		case req, ok := <-m.queue:
			if !ok {
				return
			}
			metrics.SetQueueLength(len(m.queue))
			m.process(id, req)
		case <-m.done:
			m.drain()
			return
		}
	}
}

func (m *Manager) process(id int, req *Request) {
	// 呼叫端已放棄時不再送出遠端請求
	if err := req.Context.Err(); err != nil {
		m.failed.Add(1)
		req.Result <- Result{Error: err}
		return
	}

	ctx := req.Context
	if timeout := m.provider.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := m.provider.Generate(ctx, req.Request)
	if err != nil {
		m.failed.Add(1)
		common.LogDebug("Queued request failed",
			zap.Int("worker", id),
			zap.Duration("耗時", time.Since(start)),
			zap.Error(err),
		)
	} else {
		m.processed.Add(1)
	}
	req.Result <- Result{Response: resp, Error: err}
}

// drain 關閉時回覆尚未處理的請求
func (m *Manager) drain() {
	for {
		select {
		case req := <-m.queue:
			m.failed.Add(1)
			req.Result <- Result{Error: common.ErrQueueClosed}
		default:
			return
		}
	}
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: m.processed.Load(),
		FailedCount:    m.failed.Load(),
		MaxQueueSize:   m.config.MaxSize,
		Workers:        m.config.Workers,
	}
}

// Close 停止接受新請求並等待 worker 結束
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.done)
		m.wg.Wait()
		m.drain()
		metrics.SetQueueLength(0)

		common.LogInfo("AI 請求隊列已關閉",
			zap.Int64("processed", m.processed.Load()),
			zap.Int64("failed", m.failed.Load()),
		)
	})
}
