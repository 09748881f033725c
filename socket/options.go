package socket

import (
	"encoding/binary"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/socket/logs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// option values are C ints in host byte order
const optLen = 4

// GetSockOpt 把选项值写入 val 并返回长度。
// 只支持 SO_REUSEADDR（恒为开启）和 TCP_NODELAY。
func (c *Conn) GetSockOpt(level, name int, val []byte) (int, error) {
	if c.handle == nil {
		return 0, c.badHandle("getsockopt")
	}
	if len(val) < optLen {
		return 0, invalidOpt("getsockopt", level, name)
	}

	switch {
	case level == unix.SOL_SOCKET && name == unix.SO_REUSEADDR:
		binary.NativeEndian.PutUint32(val, 1)
	case level == unix.IPPROTO_TCP && name == unix.TCP_NODELAY:
		binary.NativeEndian.PutUint32(val, boolInt(c.handle.NagleDisabled()))
	default:
		return 0, invalidOpt("getsockopt", level, name)
	}
	return optLen, nil
}

// SetSockOpt 要求值正好 4 字节。
// SO_REUSEADDR 接受但忽略，传输层总是允许复用。
func (c *Conn) SetSockOpt(level, name int, val []byte) error {
	if c.handle == nil {
		return c.badHandle("setsockopt")
	}
	if len(val) != optLen {
		return invalidOpt("setsockopt", level, name)
	}

	switch {
	case level == unix.SOL_SOCKET && name == unix.SO_REUSEADDR:
		return nil
	case level == unix.IPPROTO_TCP && name == unix.TCP_NODELAY:
		c.handle.SetNagleDisabled(binary.NativeEndian.Uint32(val) != 0)
		return nil
	default:
		return invalidOpt("setsockopt", level, name)
	}
}

func (c *Conn) NoDelay() (bool, error) {
	if c.handle == nil {
		return false, c.badHandle("getsockopt")
	}
	return c.handle.NagleDisabled(), nil
}

func (c *Conn) SetNoDelay(noDelay bool) error {
	val := make([]byte, optLen)
	binary.NativeEndian.PutUint32(val, boolInt(noDelay))
	return c.SetSockOpt(unix.IPPROTO_TCP, unix.TCP_NODELAY, val)
}

// shutdownSides 把 SHUT_* 转换成接收、发送两个方向
func shutdownSides(how int) (rx, tx bool, ok bool) {
	switch how {
	case unix.SHUT_RD:
		return true, false, true
	case unix.SHUT_WR:
		return false, true, true
	case unix.SHUT_RDWR:
		return true, true, true
	default:
		return false, false, false
	}
}

func invalidOpt(op string, level, name int) *errs.SockErr {
	e := errs.NewInvalidArgumentErr()
	logs.Warn(e.Error(), zap.String(consts.LogFieldOp, op), zap.Int("level", level), zap.Int("name", name))
	return e
}

func boolInt(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
