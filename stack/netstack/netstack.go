// Package netstack 在操作系统 TCP socket 之上实现回调驱动的传输层约定。
//
// 阻塞的 socket 调用在协程池的 worker 上执行，结果作为事件投递给 Loop，
// 所以 handler 只会在 loop 协程上运行。
// 从内核读取的数据量不超过通过 Recved 归还的接收窗口。
package netstack

import (
	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/logs"
	"github.com/Trinoooo/eggie_sock/stack"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	DefaultSendBuffer = 16 * consts.KB
	DefaultRecvWindow = 16 * consts.KB
	DefaultMaxHandles = 1024
	readChunk         = 4 * consts.KB
)

var logger = logs.Component(consts.Netstack)

type Option func(s *Stack)

func WithFamily(family int) Option {
	return func(s *Stack) {
		s.family = family
	}
}

func WithSendBuffer(n int) Option {
	return func(s *Stack) {
		s.sndBuf = n
	}
}

func WithRecvWindow(n int) Option {
	return func(s *Stack) {
		s.rcvWnd = n
	}
}

func WithMaxHandles(n int) Option {
	return func(s *Stack) {
		s.maxHandles = n
	}
}

// WithPool 使用外部协程池运行 socket worker，而不是私有的池
func WithPool(pool gopool.Pool) Option {
	return func(s *Stack) {
		s.pool = pool
	}
}

var _ stack.Stack = (*Stack)(nil)

type Stack struct {
	loop       *Loop
	pool       gopool.Pool
	family     int
	sndBuf     int
	rcvWnd     int
	maxHandles int
	// loop goroutine only
	live int
}

func New(loop *Loop, opts ...Option) *Stack {
	s := &Stack{
		loop:       loop,
		family:     unix.AF_INET,
		sndBuf:     DefaultSendBuffer,
		rcvWnd:     DefaultRecvWindow,
		maxHandles: DefaultMaxHandles,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		// every connection parks a reader and a writer on the pool
		s.pool = gopool.NewPool("netstack", int32(2*s.maxHandles+8), gopool.NewConfig())
	}
	return s
}

func (s *Stack) Family() int {
	return s.family
}

func (s *Stack) Loop() *Loop {
	return s.loop
}

// Live 已分配的句柄数，只能在 loop 协程调用
func (s *Stack) Live() int {
	return s.live
}

func (s *Stack) NewHandle() (stack.Handle, error) {
	if s.live >= s.maxHandles {
		logger.Warn("handle limit reached", zap.Int(consts.LogFieldValue, s.live))
		return nil, stack.ErrMem
	}
	s.live++
	return &handle{s: s, sndAvail: s.sndBuf}, nil
}

// post 把 fn 交给 loop，执行后唤醒 tick 回调
func (s *Stack) post(fn func()) bool {
	return s.loop.Post(func() {
		fn()
		s.loop.Notify()
	})
}
