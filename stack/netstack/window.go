package netstack

import "sync"

// window 接收窗口额度，loop（give）和读协程（wait、spend）共享
type window struct {
	mu     sync.Mutex
	cond   *sync.Cond
	credit int
	closed bool
}

func newWindow(n int) *window {
	w := &window{credit: n}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// wait 阻塞直到有额度，关闭后返回 false
func (w *window) wait() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.credit <= 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return 0, false
	}
	return w.credit, true
}

func (w *window) spend(n int) {
	w.mu.Lock()
	w.credit -= n
	w.mu.Unlock()
}

func (w *window) give(n int) {
	w.mu.Lock()
	w.credit += n
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *window) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}
