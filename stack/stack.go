// Package stack 是 socket 适配层和回调驱动的 TCP 传输层之间的边界。
//
// 传输层用 Handle 持有每条连接的状态，通过注册在句柄上的 EventHandler
// 报告新连接、数据到达和错误事件。
// 所有 Handle 方法和 EventHandler 回调都发生在同一个事件协程上，
// 实现不能从其他协程回调 handler。
package stack

import "net/netip"

type Stack interface {
	// NewHandle 分配一个未绑定的句柄，传输层放不下时返回 ErrMem
	NewHandle() (Handle, error)
	// Family 传输层使用的地址族，unix.AF_INET 或 unix.AF_INET6
	Family() int
}

type Handle interface {
	// SetHandler 注册事件接收者，nil 表示解除。
	// 解除期间到达的事件会被保留，重新设置 handler 后按顺序投递；
	// 出错的句柄在错误投递出去之前不会被释放。
	SetHandler(h EventHandler)

	Bind(ip netip.Addr, port uint16) error
	// Listen 把句柄转成监听句柄。
	// 成功时返回的新句柄取代原句柄，原句柄被释放，不能再使用。
	// 失败时原句柄仍然有效，仍归调用方所有。
	Listen(backlog int) (Handle, error)

	// Recved 把已消费的 n 字节归还给接收窗口
	Recved(n int)
	// SndBuf 发送缓冲区剩余空间，与连接状态无关，不能发送的句柄由 Write 报错
	SndBuf() int
	// Write 把 p 拷贝进发送队列
	Write(p []byte) error
	// Output 要求传输层立即发送队列中的数据
	Output() error

	Shutdown(rx, tx bool) error
	// Close 开始优雅关闭。只有成功时句柄才被释放，失败时仍然有效且归调用方所有。
	Close() error
	// Abort 立即释放句柄并 reset 对端。
	// 如果设置了 handler，Abort 返回前它会收到 OnError(ErrAbrt)。
	Abort()

	NagleDisabled() bool
	SetNagleDisabled(disabled bool)

	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
}

// EventHandler 接收单个句柄的传输层事件
type EventHandler interface {
	// OnAccept 监听句柄上建立了新连接，新句柄从此归接收方所有。
	// err 非 nil 或句柄为 nil 表示没有产生连接。
	OnAccept(h Handle, err error) error
	// OnRecv 投递收到的数据及其所有权。
	// seg == nil 表示对端关闭了发送方向，err 非 nil 表示接收失败。
	OnRecv(seg *Segment, err error) error
	// OnError 报告致命错误，执行时传输层已经释放了句柄
	OnError(err error)
}
