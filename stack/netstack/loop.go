package netstack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/eggie_sock/utils"
)

// Loop netstack 唯一的事件协程，所有句柄方法、handler 回调和投递的任务都在 Run 里执行
type Loop struct {
	mu      sync.RWMutex
	stopped bool
	tasks   *utils.UnboundChan[func()]

	interval time.Duration
	ticks    []func()
	kicked   atomic.Bool
}

// NewLoop 创建 loop，tick 回调每隔 interval 以及每次 Notify 时执行。
// interval <= 0 时关闭周期 tick。
func NewLoop(interval time.Duration) *Loop {
	return &Loop{
		tasks:    utils.NewUnboundChan[func()](64),
		interval: interval,
	}
}

// OnTick 注册每次 tick 执行的 fn，需要在 Run 之前或在 loop 协程里调用
func (l *Loop) OnTick(fn func()) {
	l.ticks = append(l.ticks, fn)
}

// Post 把 fn 调度到 loop 协程执行，任意协程都可以调用，loop 停止后返回 false
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return false
	}
	l.tasks.In(fn)
	return true
}

// Exec 在 loop 协程上执行 fn 并等待完成，在 loop 协程里调用会死锁
func (l *Loop) Exec(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Notify 请求尽快额外 tick 一次，tick 执行前的多次请求合并为一次
func (l *Loop) Notify() {
	if l.kicked.CompareAndSwap(false, true) {
		if !l.Post(l.tick) {
			l.kicked.Store(false)
		}
	}
}

func (l *Loop) tick() {
	l.kicked.Store(false)
	for _, fn := range l.ticks {
		fn()
	}
}

// Run 处理任务直到 ctx 结束或调用 Stop，停止前投递的任务仍会执行
func (l *Loop) Run(ctx context.Context) error {
	var tickC <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	out := l.tasks.Output()
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			for fn := range out {
				fn()
			}
			return nil
		case fn, ok := <-out:
			if !ok {
				return nil
			}
			fn()
		case <-tickC:
			l.tick()
		}
	}
}

func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.tasks.Close()
}
