package socket

import "github.com/Trinoooo/eggie_sock/stack"

var _ stack.EventHandler = bridge{}

// bridge 把传输层事件转给持有该句柄的 Conn。
// 包内只有它实现 stack.EventHandler，Conn 的事件方法因此不必导出。
type bridge struct {
	conn *Conn
}

func (b bridge) OnAccept(h stack.Handle, err error) error {
	return b.conn.acceptFn(h, err)
}

func (b bridge) OnRecv(seg *stack.Segment, err error) error {
	return b.conn.recvFn(seg, err)
}

func (b bridge) OnError(err error) {
	b.conn.errFn(err)
}
