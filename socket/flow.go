package socket

import (
	"errors"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/socket/logs"
	"github.com/Trinoooo/eggie_sock/stack"
	"go.uber.org/zap"
)

// sendable n 字节的写入中传输层当前能接收的部分
func (c *Conn) sendable(n int) int {
	return min(n, c.handle.SndBuf())
}

// Write 按发送缓冲区剩余空间尽量多地写入 p，并要求传输层立即发送。
// 写入不完整不算错误。
//
// 无法触发发送时返回已入队的字节数和 IoError，数据仍留在队列里。
func (c *Conn) Write(p []byte) (int, error) {
	if c.handle == nil {
		return 0, c.badHandle("write")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.shutWr {
		e := errs.NewIoErr().WithErr(stack.ErrClsd)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "write"), zap.String(consts.LogFieldValue, c.State().String()))
		return 0, e
	}

	n := c.sendable(len(p))
	if n <= 0 {
		return 0, c.wouldBlock("write")
	}
	if err := c.handle.Write(p[:n]); err != nil {
		if errors.Is(err, stack.ErrMem) {
			return 0, c.wouldBlock("write")
		}
		e := errs.NewIoErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "write"), zap.Int(consts.LogFieldBytes, n))
		return 0, e
	}

	if err := c.handle.Output(); err != nil {
		e := errs.NewIoErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldOp, "output"), zap.Int(consts.LogFieldBytes, n))
		return n, e
	}
	return n, nil
}

// WriteBuffers 依次写入 bufs，遇到第一次不完整写入就停止。
// 已经写入一部分后发送空间不足，只返回已写字节数。
func (c *Conn) WriteBuffers(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := c.Write(b)
		total += n
		if err != nil {
			if total > 0 && errors.Is(err, errs.ErrWouldBlock) {
				return total, nil
			}
			return total, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

// ReadBuffers 依次从接收链填充 bufs，整个调用只归还一次窗口
func (c *Conn) ReadBuffers(bufs [][]byte) (int, error) {
	size := 0
	for _, b := range bufs {
		size += len(b)
	}
	if c.rx.empty() && (c.handle == nil || c.rxClosed) {
		return c.Read(nil)
	}
	if size == 0 {
		return 0, nil
	}
	if c.rx.empty() {
		return 0, c.wouldBlock("readv")
	}

	total := 0
	for _, b := range bufs {
		if c.rx.empty() {
			break
		}
		total += c.rx.read(b)
	}
	if c.handle != nil {
		c.handle.Recved(total)
	}
	return total, nil
}
