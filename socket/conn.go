// Package socket 把回调驱动的 stack.Handle 适配成非阻塞、POSIX 风格的 socket。
//
// Conn 不是并发安全的，所有方法和传输层回调都必须跑在传输层的事件协程上。
package socket

import (
	"errors"
	"net/netip"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/socket/logs"
	"github.com/Trinoooo/eggie_sock/stack"
	"go.uber.org/zap"
)

type State int

const (
	StateOpen State = iota
	StateShutRd
	StateShutWr
	StateShutRdWr
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateShutRd:
		return "shut_rd"
	case StateShutWr:
		return "shut_wr"
	case StateShutRdWr:
		return "shut_rdwr"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

type Conn struct {
	// nil once the transport handle is gone, never set again afterwards
	handle   stack.Handle
	family   int
	queue    acceptQueue
	rx       rxChain
	rxClosed bool
	shutRd   bool
	shutWr   bool
}

// New 分配一个新的传输层句柄并包装成 Conn
func New(s stack.Stack) (*Conn, error) {
	h, err := s.NewHandle()
	if err != nil {
		e := errs.NewResourceExhaustedErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "socket"))
		return nil, e
	}
	c := newConn(h, s.Family())
	c.attach()
	return c, nil
}

// newConn 包装 h 但不安装回调，已建立的子连接在被 Accept 取走前一直保持这样
func newConn(h stack.Handle, family int) *Conn {
	return &Conn{handle: h, family: family}
}

func (c *Conn) attach() {
	c.handle.SetHandler(bridge{conn: c})
}

// Bind 绑定本地地址，name 是该 family 的原始 sockaddr
func (c *Conn) Bind(name []byte) error {
	if c.handle == nil {
		return c.badHandle("bind")
	}
	ap, err := DecodeSockaddr(name, c.family)
	if err != nil {
		return err
	}

	if err := c.handle.Bind(familyAddr(c.family, ap.Addr()), ap.Port()); err != nil {
		var e *errs.SockErr
		switch {
		case errors.Is(err, stack.ErrUse):
			e = errs.NewAddressInUseErr()
		case errors.Is(err, stack.ErrVal):
			e = errs.NewInvalidArgumentErr()
		default:
			e = errs.NewIoErr()
		}
		e = e.WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "bind"), zap.String(consts.LogFieldLocal, ap.String()))
		return e
	}
	return nil
}

func (c *Conn) BindAddrPort(ap netip.AddrPort) error {
	return c.Bind(EncodeSockaddr(ap))
}

// Listen 把 conn 转成监听状态。传输层拒绝转换时句柄会被 abort。
func (c *Conn) Listen(backlog int) error {
	if c.handle == nil {
		return c.badHandle("listen")
	}
	lh, err := c.handle.Listen(backlog)
	if err != nil {
		c.abort()
		e := errs.NewUnsupportedErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "listen"), zap.Int(consts.LogFieldValue, backlog))
		return e
	}
	// the old handle is freed, the listening one has no callbacks yet
	c.handle = lh
	c.attach()
	return nil
}

// Accept 取出最早到达的连接。
// name 非 nil 且足够大时写入对端地址并返回其长度。
func (c *Conn) Accept(name []byte) (*Conn, int, error) {
	if c.handle == nil {
		return nil, 0, c.badHandle("accept")
	}
	child := c.queue.pop()
	if child == nil {
		return nil, 0, c.wouldBlock("accept")
	}

	n := 0
	if child.handle != nil {
		if name != nil {
			// a too small buffer is not an accept failure
			n, _ = putSockaddr(name, child.family, child.handle.RemoteAddr())
		}
		child.attach()
	}
	logs.Debug("accepted", zap.String(consts.LogFieldRemote, child.PeerNameString()), zap.Int(consts.LogFieldValue, c.queue.len()))
	return child, n, nil
}

// Read 读取缓存的数据。
// 句柄没了之后缓存的数据仍然可读，读完才报告 reset。
func (c *Conn) Read(p []byte) (int, error) {
	if c.rx.empty() && (c.handle == nil || c.rxClosed) {
		e := errs.NewConnectionResetErr()
		logs.Debug(e.Error(), zap.String(consts.LogFieldOp, "read"))
		return 0, e
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.rx.empty() {
		return 0, c.wouldBlock("read")
	}

	n := c.rx.read(p)
	if c.handle != nil {
		c.handle.Recved(n)
	}
	return n, nil
}

func (c *Conn) Shutdown(how int) error {
	if c.handle == nil {
		return c.badHandle("shutdown")
	}
	rx, tx, ok := shutdownSides(how)
	if !ok {
		e := errs.NewInvalidArgumentErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldOp, "shutdown"), zap.Int(consts.LogFieldValue, how))
		return e
	}

	if err := c.handle.Shutdown(rx, tx); err != nil {
		e := memOrIo(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "shutdown"), zap.Int(consts.LogFieldValue, how))
		return e
	}
	if rx {
		c.shutRd = true
		c.rxClosed = true
	}
	if tx {
		c.shutWr = true
	}
	return nil
}

// Close 优雅关闭句柄，传输层拒绝时改为 abort。
// 无论结果如何 conn 都进入关闭状态，缓存的 segment 和排队的子连接都会释放，
// 句柄已经不在时也一样。
func (c *Conn) Close() error {
	c.releaseQueue()
	c.rx.release()
	if c.handle == nil {
		return c.badHandle("close")
	}

	h := c.handle
	c.handle = nil
	h.SetHandler(nil)
	if err := h.Close(); err != nil {
		h.Abort()
		e := memOrIo(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "close"))
		return e
	}
	return nil
}

// Release 不做优雅关闭直接丢弃 conn，还在的句柄会被 abort。
// 可以重复调用，也可以在 Close 之后调用。
func (c *Conn) Release() {
	c.releaseQueue()
	if c.handle != nil {
		c.abort()
	}
	c.rx.release()
}

func (c *Conn) abort() {
	h := c.handle
	c.handle = nil
	h.SetHandler(nil)
	h.Abort()
}

func (c *Conn) releaseQueue() {
	for child := c.queue.pop(); child != nil; child = c.queue.pop() {
		child.Release()
	}
}

func (c *Conn) acceptFn(h stack.Handle, err error) error {
	if err != nil || h == nil {
		logs.Debug("inbound connection dropped", zap.Error(err))
		return nil
	}
	c.queue.push(newConn(h, c.family))
	return nil
}

func (c *Conn) recvFn(seg *stack.Segment, err error) error {
	if err != nil {
		releaseChain(seg)
		c.rxClosed = true
		logs.Debug("receive failed", zap.Error(err))
		return nil
	}
	if seg == nil {
		c.rxClosed = true
		return nil
	}
	c.rx.append(seg)
	return nil
}

// errFn 执行时传输层已经释放了句柄，不能再碰它
func (c *Conn) errFn(err error) {
	c.handle = nil
	logs.Debug("handle torn down by transport", zap.Error(err), zap.Int(consts.LogFieldBytes, c.rx.buffered()))
}

func (c *Conn) GetSockName(name []byte) (int, error) {
	if c.handle == nil {
		return 0, c.badHandle("getsockname")
	}
	return putSockaddr(name, c.family, c.handle.LocalAddr())
}

func (c *Conn) GetPeerName(name []byte) (int, error) {
	if c.handle == nil {
		return 0, c.badHandle("getpeername")
	}
	return putSockaddr(name, c.family, c.handle.RemoteAddr())
}

func (c *Conn) SockName() (netip.AddrPort, error) {
	if c.handle == nil {
		return netip.AddrPort{}, c.badHandle("getsockname")
	}
	ap := c.handle.LocalAddr()
	return netip.AddrPortFrom(familyAddr(c.family, ap.Addr()), ap.Port()), nil
}

func (c *Conn) PeerName() (netip.AddrPort, error) {
	if c.handle == nil {
		return netip.AddrPort{}, c.badHandle("getpeername")
	}
	ap := c.handle.RemoteAddr()
	return netip.AddrPortFrom(familyAddr(c.family, ap.Addr()), ap.Port()), nil
}

// SockNameString 本地地址（不含端口），关闭后为空串
func (c *Conn) SockNameString() string {
	if c.handle == nil {
		return ""
	}
	return familyAddr(c.family, c.handle.LocalAddr().Addr()).String()
}

// PeerNameString 对端地址（不含端口），关闭后为空串
func (c *Conn) PeerNameString() string {
	if c.handle == nil {
		return ""
	}
	return familyAddr(c.family, c.handle.RemoteAddr().Addr()).String()
}

// SetBlocking 只接受非阻塞模式
func (c *Conn) SetBlocking(blocking bool) error {
	if c.handle == nil {
		return c.badHandle("setblocking")
	}
	if blocking {
		e := errs.NewInvalidArgumentErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldOp, "setblocking"))
		return e
	}
	return nil
}

func (c *Conn) Family() int {
	return c.family
}

// Buffered 等待 Read 的字节数
func (c *Conn) Buffered() int {
	return c.rx.buffered()
}

// Pending 等待 Accept 的连接数
func (c *Conn) Pending() int {
	return c.queue.len()
}

// RxClosed 对端关闭了发送方向或接收出错时为 true
func (c *Conn) RxClosed() bool {
	return c.rxClosed
}

func (c *Conn) State() State {
	switch {
	case c.handle == nil:
		return StateTornDown
	case c.shutRd && c.shutWr:
		return StateShutRdWr
	case c.shutRd:
		return StateShutRd
	case c.shutWr:
		return StateShutWr
	default:
		return StateOpen
	}
}

func (c *Conn) badHandle(op string) *errs.SockErr {
	e := errs.NewBadHandleErr()
	logs.Warn(e.Error(), zap.String(consts.LogFieldOp, op))
	return e
}

func (c *Conn) wouldBlock(op string) *errs.SockErr {
	e := errs.NewWouldBlockErr()
	logs.Debug(e.Error(), zap.String(consts.LogFieldOp, op))
	return e
}

func memOrIo(err error) *errs.SockErr {
	if errors.Is(err, stack.ErrMem) {
		return errs.NewResourceExhaustedErr().WithErr(err)
	}
	return errs.NewIoErr().WithErr(err)
}
