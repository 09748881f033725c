package errs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type SockErr struct {
	msg   string
	code  int64
	errno unix.Errno
	err   error
}

// Error 输出格式：
// [错误码] 错误类型描述 ( => 包含错误详细描述 )
// 解释：(xxx) 表示可选内容
func (se *SockErr) Error() string {
	details := fmt.Sprintf("[%d] %s", se.code, se.msg)
	if se.err != nil {
		details += fmt.Sprintf(" => %s", se.err)
	}

	return details
}

func (se *SockErr) Code() int64 {
	return se.code
}

// Errno C 调用方会在 errno 里看到的 POSIX 错误号，socket 之外的错误码为 0
func (se *SockErr) Errno() unix.Errno {
	return se.errno
}

func (se *SockErr) WithErr(err error) *SockErr {
	se.err = err
	return se
}

func (se *SockErr) Unwrap() error {
	return se.err
}

// Is 按错误码匹配 *SockErr，按 errno 匹配 unix.Errno
func (se *SockErr) Is(target error) bool {
	var t *SockErr
	if errors.As(target, &t) {
		return se.code == t.code
	}
	var errno unix.Errno
	if errors.As(target, &errno) {
		return se.errno != 0 && se.errno == errno
	}
	return false
}

func GetCode(err error) int64 {
	var se *SockErr
	if errors.As(err, &se) {
		return se.code
	}
	return UnknownErrCode
}

func GetErrno(err error) unix.Errno {
	var se *SockErr
	if errors.As(err, &se) {
		return se.errno
	}
	return 0
}

const (
	UnknownErrCode            = 0
	BadHandleErrCode          = 100001
	InvalidArgumentErrCode    = 100002
	WouldBlockErrCode         = 100003
	AddressInUseErrCode       = 100004
	ConnectionResetErrCode    = 100005
	UnsupportedErrCode        = 100006
	ResourceExhaustedErrCode  = 100007
	IoErrCode                 = 100008
	InvalidParamErrCode       = 200001
	ConfigErrCode             = 200002
	ReadSocketErrCode         = 200003
	WriteSocketErrCode        = 200004
	ServerClosedErrCode       = 200005
	UnsupportedCmdErrCode     = 200006
	TooManyConnectionsErrCode = 200007
)

// sentinels for errors.Is
var (
	ErrBadHandle         = NewBadHandleErr()
	ErrInvalidArgument   = NewInvalidArgumentErr()
	ErrWouldBlock        = NewWouldBlockErr()
	ErrAddressInUse      = NewAddressInUseErr()
	ErrConnectionReset   = NewConnectionResetErr()
	ErrUnsupported       = NewUnsupportedErr()
	ErrResourceExhausted = NewResourceExhaustedErr()
	ErrIo                = NewIoErr()
)

func NewUnknownErr() *SockErr {
	return &SockErr{msg: "unknown error", code: UnknownErrCode}
}

func NewBadHandleErr() *SockErr {
	return &SockErr{msg: "bad handle", code: BadHandleErrCode, errno: unix.EBADF}
}

func NewInvalidArgumentErr() *SockErr {
	return &SockErr{msg: "invalid argument", code: InvalidArgumentErrCode, errno: unix.EINVAL}
}

func NewWouldBlockErr() *SockErr {
	return &SockErr{msg: "operation would block", code: WouldBlockErrCode, errno: unix.EWOULDBLOCK}
}

func NewAddressInUseErr() *SockErr {
	return &SockErr{msg: "address already in use", code: AddressInUseErrCode, errno: unix.EADDRINUSE}
}

func NewConnectionResetErr() *SockErr {
	return &SockErr{msg: "connection reset", code: ConnectionResetErrCode, errno: unix.ECONNRESET}
}

func NewUnsupportedErr() *SockErr {
	return &SockErr{msg: "operation not supported", code: UnsupportedErrCode, errno: unix.EOPNOTSUPP}
}

func NewResourceExhaustedErr() *SockErr {
	return &SockErr{msg: "out of memory", code: ResourceExhaustedErrCode, errno: unix.ENOMEM}
}

func NewIoErr() *SockErr {
	return &SockErr{msg: "i/o error", code: IoErrCode, errno: unix.EIO}
}

func NewInvalidParamErr() *SockErr {
	return &SockErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewConfigErr() *SockErr {
	return &SockErr{msg: "load config failed", code: ConfigErrCode}
}

func NewReadSocketErr() *SockErr {
	return &SockErr{msg: "read socket failed", code: ReadSocketErrCode}
}

func NewWriteSocketErr() *SockErr {
	return &SockErr{msg: "write socket failed", code: WriteSocketErrCode}
}

func NewServerClosedErr() *SockErr {
	return &SockErr{msg: "server already closed", code: ServerClosedErrCode}
}

func NewUnsupportedCmdErr() *SockErr {
	return &SockErr{msg: "unsupported command", code: UnsupportedCmdErrCode}
}

func NewTooManyConnectionsErr() *SockErr {
	return &SockErr{msg: "too many connections", code: TooManyConnectionsErrCode}
}
