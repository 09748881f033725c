// Package memstack 内存中的回调驱动 TCP 传输层。
// 完全同步驱动：事件在触发它的调用（Peer 方法、SetHandler、Abort）内部，
// 在调用方的协程上投递。
//
// 没有 handler 的句柄上的事件会被保留，安装 handler 后按顺序投递。
// 出错的句柄在错误投递之前保持分配状态。使用已释放的句柄会 panic。
package memstack

import (
	"net/netip"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/stack"
	"golang.org/x/sys/unix"
)

const (
	DefaultSendBuffer = 4 * consts.KB
	DefaultRecvWindow = 16 * consts.KB
	ephemeralPort     = 49152
)

// Op 故障注入时指定的句柄操作
type Op string

const (
	OpNew      Op = "new"
	OpBind     Op = "bind"
	OpListen   Op = "listen"
	OpWrite    Op = "write"
	OpOutput   Op = "output"
	OpShutdown Op = "shutdown"
	OpClose    Op = "close"
)

type Option func(s *Stack)

// WithFamily 选择 unix.AF_INET（默认）或 unix.AF_INET6
func WithFamily(family int) Option {
	return func(s *Stack) {
		s.family = family
	}
}

// WithAddr 设置协议栈自身的接口地址
func WithAddr(addr netip.Addr) Option {
	return func(s *Stack) {
		s.addr = addr
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

// WithListenBacklog 已建立未 accept 的连接达到 backlog 后，监听句柄拒绝新连接。
// 默认关闭。
func WithListenBacklog() Option {
	return func(s *Stack) {
		s.enforceBacklog = true
	}
}

// WithMaxHandles 限制存活句柄数，0 表示不限制
func WithMaxHandles(n int) Option {
	return func(s *Stack) {
		s.maxHandles = n
	}
}

var _ stack.Stack = (*Stack)(nil)

type Stack struct {
	family     int
	addr       netip.Addr
	sndBuf     int
	rcvWnd     int
	maxHandles int

	enforceBacklog bool

	nextID   int
	nextPort uint16
	live     int
	segments int
	ports    map[uint16]*handle
	faults   map[Op]stack.Err
}

func New(opts ...Option) *Stack {
	s := &Stack{
		family:   unix.AF_INET,
		sndBuf:   DefaultSendBuffer,
		rcvWnd:   DefaultRecvWindow,
		nextPort: ephemeralPort,
		ports:    make(map[uint16]*handle),
		faults:   make(map[Op]stack.Err),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.addr.IsValid() {
		if s.family == unix.AF_INET6 {
			s.addr = netip.MustParseAddr("fd00::10")
		} else {
			s.addr = netip.MustParseAddr("192.168.1.10")
		}
	}
	return s
}

func (s *Stack) Family() int {
	return s.family
}

func (s *Stack) Addr() netip.Addr {
	return s.addr
}

func (s *Stack) NewHandle() (stack.Handle, error) {
	if err := s.fault(OpNew); err != nil {
		return nil, err
	}
	h, err := s.alloc()
	if err != nil {
		return nil, err
	}
	return h, nil
}

// FailNext 让下一次 op 调用以 err 失败
func (s *Stack) FailNext(op Op, err stack.Err) {
	s.faults[op] = err
}

// Live 已分配的句柄数
func (s *Stack) Live() int {
	return s.live
}

// Segments 已投递但还没释放的 segment 数
func (s *Stack) Segments() int {
	return s.segments
}

func (s *Stack) fault(op Op) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Stack) alloc() (*handle, error) {
	if s.maxHandles > 0 && s.live >= s.maxHandles {
		return nil, stack.ErrMem
	}
	s.nextID++
	s.live++
	return &handle{
		s:        s,
		id:       s.nextID,
		sndAvail: s.sndBuf,
		rcvWnd:   s.rcvWnd,
	}, nil
}

func (s *Stack) ephemeral() (uint16, error) {
	for i := 0; i < 1<<14; i++ {
		port := s.nextPort
		s.nextPort++
		if s.nextPort == 0 {
			s.nextPort = ephemeralPort
		}
		if _, used := s.ports[port]; !used {
			return port, nil
		}
	}
	return 0, stack.ErrBuf
}

func (s *Stack) segment(p []byte) *stack.Segment {
	s.segments++
	payload := append([]byte(nil), p...)
	return stack.NewSegment(payload, func() {
		s.segments--
	})
}

// Connect 从远端地址向监听端口建立连接，Connect 返回前监听方已经通过 OnAccept 收到
func (s *Stack) Connect(from netip.AddrPort, port uint16) (*Peer, error) {
	l, ok := s.ports[port]
	if !ok || !l.listening || l.handler == nil {
		return nil, stack.ErrRst
	}
	if s.enforceBacklog && l.unaccepted() >= l.backlog {
		return nil, stack.ErrConn
	}

	child, err := s.alloc()
	if err != nil {
		_ = l.handler.OnAccept(nil, err)
		return nil, err
	}
	child.local = netip.AddrPortFrom(l.localAddr(), port)
	child.remote = from
	child.peer = &Peer{h: child, addr: from}
	if s.enforceBacklog {
		l.children = append(l.children, child)
	}

	if err := l.handler.OnAccept(child, nil); err != nil {
		child.Abort()
		return nil, err
	}
	return child.peer, nil
}

// ResetListener 让 port 上的监听句柄以 ErrRst 失败。
// 和其他错误一样，错误投递给 handler 后句柄被释放。
func (s *Stack) ResetListener(port uint16) error {
	l, ok := s.ports[port]
	if !ok || !l.listening {
		return stack.ErrConn
	}
	l.post(event{kind: evError, err: stack.ErrRst})
	return nil
}

func (s *Stack) unspecified() netip.Addr {
	if s.family == unix.AF_INET6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}
