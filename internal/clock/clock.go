package clock

import (
	"sync"
	"time"
)

// Clock 抽象当前时间，便于测试中精确控制封禁过期。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real 返回基于系统时间的 Clock，统一使用 UTC 并截断到微秒（与 Postgres 精度一致）。
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// Fake 是可手动推进的时钟，仅用于测试。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake { return &Fake{now: start.UTC()} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 将时钟向前推进 d。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
