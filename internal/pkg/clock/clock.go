package clock

import (
	"sync"
	"time"
)

// Clock 提供目前時間，測試時可替換為可控制的實作
type Clock interface {
	Now() time.Time
}

// SystemClock 回傳系統時間
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fake 可手動推進的時鐘
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 創建固定於 t 的時鐘
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 將時鐘往前推進 d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
