package memstack

import (
	"net/netip"

	"github.com/Trinoooo/eggie_sock/stack"
)

// Peer 已接受连接的远端
type Peer struct {
	h        *handle
	addr     netip.AddrPort
	received []byte
	fin      bool
	reset    bool
	gone     bool
}

func (p *Peer) Addr() netip.AddrPort {
	return p.addr
}

// Send 把 p 作为一个 segment 投递
func (p *Peer) Send(b []byte) error {
	return p.SendChain(b)
}

// SendChain 把 parts 作为一条链投递，每个 part 一个 segment
func (p *Peer) SendChain(parts ...[]byte) error {
	if err := p.writable(); err != nil {
		return err
	}
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	if total > p.h.rcvWnd {
		return stack.ErrWouldBlock
	}
	p.h.rcvWnd -= total

	segs := make([]*stack.Segment, 0, len(parts))
	for _, part := range parts {
		segs = append(segs, p.h.s.segment(part))
	}
	p.h.post(event{kind: evRecv, seg: stack.NewChain(segs...)})
	return nil
}

// SendError 投递 b 并附带接收错误
func (p *Peer) SendError(b []byte, err stack.Err) error {
	if p.h.freed || p.gone {
		return stack.ErrClsd
	}
	var seg *stack.Segment
	if b != nil {
		seg = p.h.s.segment(b)
	}
	p.h.post(event{kind: evRecv, seg: seg, err: err})
	return nil
}

// CloseWrite 发送 FIN
func (p *Peer) CloseWrite() error {
	if err := p.writable(); err != nil {
		return err
	}
	p.gone = true
	p.h.post(event{kind: evRecv})
	return nil
}

// Reset 用 RST 终止连接，错误投递给 handler 时句柄被释放
func (p *Peer) Reset() error {
	if p.h.freed {
		return stack.ErrClsd
	}
	p.gone = true
	p.h.post(event{kind: evError, err: stack.ErrRst})
	return nil
}

// Ack 确认 n 个已发送字节，把空间还给发送缓冲区
func (p *Peer) Ack(n int) {
	if p.h.freed {
		return
	}
	p.h.sndAvail = min(p.h.sndAvail+n, p.h.s.sndBuf)
}

// Received 本端到目前为止发出的全部数据
func (p *Peer) Received() []byte {
	return p.received
}

// Credits 本端按顺序归还过的每一次窗口
func (p *Peer) Credits() []int {
	return append([]int(nil), p.h.credits...)
}

// Fin 本端是否关闭了发送方向
func (p *Peer) Fin() bool {
	return p.fin
}

// WasReset 本端是否 abort 了连接
func (p *Peer) WasReset() bool {
	return p.reset
}

func (p *Peer) writable() error {
	if p.h.freed || p.gone {
		return stack.ErrClsd
	}
	if p.h.rxShut {
		return stack.ErrClsd
	}
	return nil
}
