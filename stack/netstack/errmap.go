package netstack

import (
	"io"
	"net"
	"os"
	"syscall"

	"github.com/Trinoooo/eggie_sock/stack"
	"github.com/pkg/errors"
)

// mapErr 把系统 socket 错误转换成原生协议栈会报告的错误码
func mapErr(err error) stack.Err {
	if err == nil {
		return stack.ErrOK
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return stack.ErrClsd
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return stack.ErrTimeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return mapErrno(errno)
	}
	return stack.ErrIf
}

func mapErrno(errno syscall.Errno) stack.Err {
	switch errno {
	case syscall.EADDRINUSE:
		return stack.ErrUse
	case syscall.EADDRNOTAVAIL, syscall.EINVAL, syscall.EAFNOSUPPORT, syscall.EACCES, syscall.EPERM:
		return stack.ErrVal
	case syscall.ECONNRESET, syscall.EPIPE:
		return stack.ErrRst
	case syscall.ECONNABORTED:
		return stack.ErrAbrt
	case syscall.ENOMEM, syscall.ENOBUFS, syscall.EMFILE, syscall.ENFILE:
		return stack.ErrMem
	case syscall.ETIMEDOUT:
		return stack.ErrTimeout
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return stack.ErrRte
	case syscall.EAGAIN, syscall.EINPROGRESS:
		return stack.ErrWouldBlock
	case syscall.EALREADY:
		return stack.ErrAlready
	case syscall.EISCONN:
		return stack.ErrIsConn
	case syscall.ENOTCONN:
		return stack.ErrConn
	default:
		return stack.ErrIf
	}
}
