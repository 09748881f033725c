package netstack

import (
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/stack"
	"github.com/Trinoooo/eggie_sock/utils"
	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const acceptBackoff = 10 * time.Millisecond

type eventKind int

const (
	evRecv eventKind = iota
	evError
)

type event struct {
	kind eventKind
	seg  *stack.Segment
	err  error
}

type chunkOp int

const (
	opData chunkOp = iota
	opCloseWrite
	opClose
)

// chunk 写协程的一条指令
type chunk struct {
	op   chunkOp
	data []byte
}

var _ stack.Handle = (*handle)(nil)

// handle 可能是新建的、已绑定（fd）、监听中（ln）或已建立连接（conn）的 socket。
// 字段归 loop 协程所有，worker 只能通过投递事件和它交互。
type handle struct {
	s       *Stack
	handler stack.EventHandler
	pending []event
	freed   bool

	local     netip.AddrPort
	remote    netip.AddrPort
	fd        int
	bound     bool
	ln        *net.TCPListener
	listening bool
	conn      *net.TCPConn
	nagleOff  bool
	txShut    bool

	sndAvail int
	unsent   []byte
	out      *utils.UnboundChan[chunk]
	win      *window
}

// accepted 包装新进来的连接并启动读写协程
func (s *Stack) accepted(c *net.TCPConn) (*handle, error) {
	if s.live >= s.maxHandles {
		return nil, stack.ErrMem
	}
	s.live++
	h := &handle{
		s:        s,
		conn:     c,
		local:    addrPortOf(c.LocalAddr(), s.family),
		remote:   addrPortOf(c.RemoteAddr(), s.family),
		nagleOff: true, // Go sockets start with TCP_NODELAY
		sndAvail: s.sndBuf,
		out:      utils.NewUnboundChan[chunk](8),
		win:      newWindow(s.rcvWnd),
	}
	out, win := h.out, h.win
	s.pool.Go(func() { h.readLoop(c, win) })
	s.pool.Go(func() { h.writeLoop(c, out) })
	return h, nil
}

func (h *handle) SetHandler(eh stack.EventHandler) {
	if h.freed {
		return
	}
	h.handler = eh
	h.flush()
}

func (h *handle) Bind(ip netip.Addr, port uint16) error {
	if h.freed {
		return stack.ErrClsd
	}
	if h.bound || h.conn != nil || h.listening {
		return stack.ErrVal
	}
	if !ip.IsValid() || (h.s.family == unix.AF_INET && !ip.Unmap().Is4()) {
		return stack.ErrVal
	}

	fd, local, err := bindSocket(h.s.family, ip, port)
	if err != nil {
		code := mapErr(err)
		logger.Warn("bind failed", zap.Error(err), zap.String(consts.LogFieldCode, code.Error()))
		return code
	}
	h.fd, h.bound, h.local = fd, true, local
	return nil
}

// Listen 在已绑定的 socket 上开始监听，backlog 直接交给内核。
// 成功时返回新的句柄，旧句柄被释放。
func (h *handle) Listen(backlog int) (stack.Handle, error) {
	if h.freed {
		return nil, stack.ErrClsd
	}
	if h.conn != nil || h.listening {
		return nil, stack.ErrVal
	}
	if !h.bound {
		if err := h.Bind(h.s.unspecified(), 0); err != nil {
			return nil, err
		}
	}
	if backlog <= 0 {
		backlog = 1
	}

	ln, consumed, err := listenSocket(h.fd, backlog)
	if consumed {
		h.bound = false
	}
	if err != nil {
		code := mapErr(err)
		logger.Warn("listen failed", zap.Error(err), zap.String(consts.LogFieldCode, code.Error()))
		return nil, code
	}

	l := &handle{
		s:         h.s,
		ln:        ln,
		local:     h.local,
		listening: true,
		nagleOff:  h.nagleOff,
		sndAvail:  h.s.sndBuf,
	}
	h.free()
	h.s.live++

	h.s.pool.Go(func() { l.acceptLoop(ln) })
	logger.Info("listening", zap.String(consts.LogFieldLocal, l.local.String()), zap.Int(consts.LogFieldValue, backlog))
	return l, nil
}

func (h *handle) Recved(n int) {
	if h.freed || h.win == nil {
		return
	}
	h.win.give(n)
}

func (h *handle) SndBuf() int {
	if h.freed {
		return 0
	}
	return h.sndAvail
}

func (h *handle) Write(p []byte) error {
	if h.freed {
		return stack.ErrClsd
	}
	if h.conn == nil {
		return stack.ErrConn
	}
	if h.txShut {
		return stack.ErrClsd
	}
	if len(p) > h.sndAvail {
		return stack.ErrMem
	}
	h.unsent = append(h.unsent, p...)
	h.sndAvail -= len(p)
	return nil
}

func (h *handle) Output() error {
	if h.freed {
		return stack.ErrClsd
	}
	if h.conn == nil {
		return stack.ErrConn
	}
	h.flushUnsent()
	return nil
}

func (h *handle) Shutdown(rx, tx bool) error {
	if h.freed {
		return stack.ErrClsd
	}
	if h.conn == nil {
		return stack.ErrConn
	}
	if rx {
		if err := h.conn.CloseRead(); err != nil {
			return mapErr(err)
		}
	}
	if tx && !h.txShut {
		h.flushUnsent()
		h.out.In(chunk{op: opCloseWrite})
		h.txShut = true
	}
	return nil
}

// Close 让写协程先把排队的数据写完再关闭 socket
func (h *handle) Close() error {
	if h.freed {
		return stack.ErrClsd
	}
	switch {
	case h.conn != nil:
		h.flushUnsent()
		h.out.In(chunk{op: opClose})
		h.out.Close()
	case h.ln != nil:
		_ = h.ln.Close()
	case h.bound:
		_ = unix.Close(h.fd)
		h.bound = false
	}
	h.free()
	return nil
}

func (h *handle) Abort() {
	if h.freed {
		return
	}
	handler := h.handler
	h.teardown(true)
	if handler != nil {
		handler.OnError(stack.ErrAbrt)
	}
}

func (h *handle) NagleDisabled() bool {
	return h.nagleOff
}

func (h *handle) SetNagleDisabled(disabled bool) {
	if h.freed {
		return
	}
	h.nagleOff = disabled
	if h.conn != nil {
		if err := h.conn.SetNoDelay(disabled); err != nil {
			logger.Warn("set nodelay failed", zap.Error(err))
		}
	}
}

func (h *handle) LocalAddr() netip.AddrPort {
	return h.local
}

func (h *handle) RemoteAddr() netip.AddrPort {
	return h.remote
}

func (h *handle) flushUnsent() {
	if len(h.unsent) == 0 {
		return
	}
	h.out.In(chunk{op: opData, data: h.unsent})
	h.unsent = nil
}

// emit 在 worker 上执行，把 ev 转给 loop
func (h *handle) emit(ev event) {
	if !h.s.post(func() { h.deliver(ev) }) {
		releaseChain(ev.seg)
	}
}

func (h *handle) deliver(ev event) {
	if h.freed {
		releaseChain(ev.seg)
		return
	}
	h.pending = append(h.pending, ev)
	h.flush()
}

// flush 按到达顺序把保留的事件交给 handler，错误事件会先释放句柄
func (h *handle) flush() {
	for h.handler != nil && !h.freed && len(h.pending) > 0 {
		ev := h.pending[0]
		h.pending[0] = event{}
		h.pending = h.pending[1:]

		switch ev.kind {
		case evRecv:
			if err := h.handler.OnRecv(ev.seg, ev.err); err != nil {
				releaseChain(ev.seg)
			}
		case evError:
			handler := h.handler
			h.teardown(false)
			handler.OnError(ev.err)
		}
	}
}

func (h *handle) acked(n int) {
	if h.freed {
		return
	}
	h.sndAvail = min(h.sndAvail+n, h.s.sndBuf)
}

func (h *handle) inbound(c *net.TCPConn) {
	if h.freed || h.handler == nil {
		abortConn(c)
		return
	}
	child, err := h.s.accepted(c)
	if err != nil {
		abortConn(c)
		_ = h.handler.OnAccept(nil, err)
		return
	}
	logger.Debug("inbound", zap.String(consts.LogFieldRemote, child.remote.String()))
	if err := h.handler.OnAccept(child, nil); err != nil {
		child.Abort()
	}
}

func (h *handle) refused(code stack.Err) {
	if h.freed || h.handler == nil {
		return
	}
	_ = h.handler.OnAccept(nil, code)
}

func (h *handle) teardown(abort bool) {
	if h.conn != nil {
		if abort {
			_ = h.conn.SetLinger(0)
		}
		_ = h.conn.Close()
		h.out.Close()
	}
	if h.ln != nil {
		_ = h.ln.Close()
	}
	if h.bound {
		_ = unix.Close(h.fd)
		h.bound = false
	}
	h.free()
}

func (h *handle) free() {
	h.freed = true
	h.handler = nil
	for _, ev := range h.pending {
		releaseChain(ev.seg)
	}
	h.pending = nil
	if h.win != nil {
		h.win.close()
	}
	h.s.live--
}

func (h *handle) acceptLoop(ln *net.TCPListener) {
	for {
		c, err := ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			code := mapErr(err)
			logger.Warn("accept failed", zap.Error(err))
			h.s.post(func() { h.refused(code) })
			time.Sleep(acceptBackoff)
			continue
		}
		if !h.s.post(func() { h.inbound(c) }) {
			abortConn(c)
		}
	}
}

// readLoop 读取量不会超过已归还的窗口
func (h *handle) readLoop(c *net.TCPConn, win *window) {
	for {
		avail, ok := win.wait()
		if !ok {
			return
		}
		buf := mcache.Malloc(min(avail, readChunk))
		n, err := c.Read(buf)
		if n > 0 {
			win.spend(n)
			h.emit(event{kind: evRecv, seg: stack.NewSegment(buf[:n], func() { mcache.Free(buf) })})
		} else {
			mcache.Free(buf)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				h.emit(event{kind: evRecv})
			} else {
				h.emit(event{kind: evError, err: mapErr(err)})
			}
			return
		}
	}
}

// writeLoop 出错后继续消费 out，保证 Close 不会阻塞
func (h *handle) writeLoop(c *net.TCPConn, out *utils.UnboundChan[chunk]) {
	failed := false
	for {
		ch, ok := out.Out()
		if !ok {
			return
		}
		switch ch.op {
		case opData:
			if failed {
				continue
			}
			if _, err := c.Write(ch.data); err != nil {
				failed = true
				h.emit(event{kind: evError, err: mapErr(err)})
				continue
			}
			n := len(ch.data)
			h.s.post(func() { h.acked(n) })
		case opCloseWrite:
			if !failed {
				_ = c.CloseWrite()
			}
		case opClose:
			_ = c.Close()
		}
	}
}

func (s *Stack) unspecified() netip.Addr {
	if s.family == unix.AF_INET6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

func addrPortOf(a net.Addr, family int) netip.AddrPort {
	ta, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ta.AddrPort()
	if family == unix.AF_INET {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return ap
}

func abortConn(c *net.TCPConn) {
	_ = c.SetLinger(0)
	_ = c.Close()
}

func releaseChain(head *stack.Segment) {
	for seg := head; seg != nil; {
		next := seg.Detach()
		seg.Release()
		seg = next
	}
}
