package memstack

import (
	"fmt"
	"net/netip"

	"github.com/Trinoooo/eggie_sock/stack"
)

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

var _ stack.Handle = (*handle)(nil)

type handle struct {
	s       *Stack
	id      int
	handler stack.EventHandler
	freed   bool
	pending []event

	local     netip.AddrPort
	remote    netip.AddrPort
	bound     bool
	listening bool
	backlog   int
	children  []*handle

	nagleOff bool
	sndAvail int
	rcvWnd   int
	unsent   []byte
	credits  []int
	rxShut   bool
	txShut   bool
	peer     *Peer
}

func (h *handle) check() {
	if h.freed {
		panic(fmt.Sprintf("memstack: handle %d used after free", h.id))
	}
}

func (h *handle) SetHandler(eh stack.EventHandler) {
	h.check()
	h.handler = eh
	h.flush()
}

func (h *handle) Bind(ip netip.Addr, port uint16) error {
	h.check()
	if err := h.s.fault(OpBind); err != nil {
		return err
	}
	if h.bound || h.listening {
		return stack.ErrVal
	}
	if !ip.IsUnspecified() && ip != h.s.addr {
		return stack.ErrVal
	}
	if port == 0 {
		p, err := h.s.ephemeral()
		if err != nil {
			return err
		}
		port = p
	}
	if _, used := h.s.ports[port]; used {
		return stack.ErrUse
	}

	h.s.ports[port] = h
	h.bound = true
	h.local = netip.AddrPortFrom(ip, port)
	return nil
}

// Listen 和 lwIP 一样重新分配句柄：返回的句柄取代 h，h 被释放
func (h *handle) Listen(backlog int) (stack.Handle, error) {
	h.check()
	if err := h.s.fault(OpListen); err != nil {
		return nil, err
	}
	if h.listening || h.peer != nil {
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

	h.s.nextID++
	l := &handle{
		s:         h.s,
		id:        h.s.nextID,
		local:     h.local,
		bound:     true,
		listening: true,
		backlog:   backlog,
		nagleOff:  h.nagleOff,
		sndAvail:  h.s.sndBuf,
	}
	h.s.ports[h.local.Port()] = l
	h.bound = false
	h.free()
	h.s.live++
	return l, nil
}

func (h *handle) Recved(n int) {
	h.check()
	h.credits = append(h.credits, n)
	h.rcvWnd += n
}

func (h *handle) SndBuf() int {
	h.check()
	return h.sndAvail
}

func (h *handle) Write(p []byte) error {
	h.check()
	if err := h.s.fault(OpWrite); err != nil {
		return err
	}
	if h.peer == nil {
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
	h.check()
	if err := h.s.fault(OpOutput); err != nil {
		return err
	}
	if h.peer == nil {
		return stack.ErrConn
	}
	h.peer.received = append(h.peer.received, h.unsent...)
	h.unsent = nil
	return nil
}

// Shutdown 不会释放句柄，两个方向都关闭也一样
func (h *handle) Shutdown(rx, tx bool) error {
	h.check()
	if err := h.s.fault(OpShutdown); err != nil {
		return err
	}
	if h.peer == nil {
		return stack.ErrConn
	}
	if rx {
		h.rxShut = true
	}
	if tx && !h.txShut {
		h.txShut = true
		h.peer.received = append(h.peer.received, h.unsent...)
		h.unsent = nil
		h.peer.fin = true
	}
	return nil
}

func (h *handle) Close() error {
	h.check()
	if err := h.s.fault(OpClose); err != nil {
		return err
	}
	if h.peer != nil {
		h.peer.received = append(h.peer.received, h.unsent...)
		h.unsent = nil
		h.peer.fin = true
	}
	h.free()
	return nil
}

func (h *handle) Abort() {
	h.check()
	if h.peer != nil {
		h.peer.reset = true
	}
	handler := h.handler
	h.free()
	if handler != nil {
		handler.OnError(stack.ErrAbrt)
	}
}

func (h *handle) NagleDisabled() bool {
	h.check()
	return h.nagleOff
}

func (h *handle) SetNagleDisabled(disabled bool) {
	h.check()
	h.nagleOff = disabled
}

func (h *handle) LocalAddr() netip.AddrPort {
	h.check()
	return h.local
}

func (h *handle) RemoteAddr() netip.AddrPort {
	h.check()
	return h.remote
}

// post 把 ev 入队并投递所有可以投递的事件
func (h *handle) post(ev event) {
	h.pending = append(h.pending, ev)
	h.flush()
}

func (h *handle) flush() {
	for h.handler != nil && !h.freed && len(h.pending) > 0 {
		ev := h.pending[0]
		h.pending[0] = event{}
		h.pending = h.pending[1:]

		switch ev.kind {
		case evRecv:
			if err := h.handler.OnRecv(ev.seg, ev.err); err != nil {
				// refused data stays ours
				releaseChain(ev.seg)
			}
		case evError:
			handler := h.handler
			h.free()
			handler.OnError(ev.err)
		}
	}
}

func (h *handle) free() {
	h.freed = true
	h.handler = nil
	h.s.live--
	if h.bound && h.s.ports[h.local.Port()] == h {
		delete(h.s.ports, h.local.Port())
	}
	for _, ev := range h.pending {
		releaseChain(ev.seg)
	}
	h.pending = nil
	// queued children belong to the listener's owner, not to the listener
	h.children = nil
}

func (h *handle) localAddr() netip.Addr {
	if h.local.Addr().IsUnspecified() {
		return h.s.addr
	}
	return h.local.Addr()
}

// unaccepted 已建立但还没有安装 handler 的子连接数
func (h *handle) unaccepted() int {
	live := h.children[:0]
	n := 0
	for _, c := range h.children {
		if c.freed || c.handler != nil {
			continue
		}
		live = append(live, c)
		n++
	}
	h.children = live
	return n
}

func releaseChain(head *stack.Segment) {
	for seg := head; seg != nil; {
		next := seg.Detach()
		seg.Release()
		seg = next
	}
}
