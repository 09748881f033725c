package stack

import "fmt"

// Err 传输层错误码，取值沿用 lwIP err_t 的编号，和真实协议栈的日志对得上
type Err int8

const (
	ErrOK         Err = 0   // no error
	ErrMem        Err = -1  // out of memory
	ErrBuf        Err = -2  // buffer error
	ErrTimeout    Err = -3  // timeout
	ErrRte        Err = -4  // routing problem
	ErrInProgress Err = -5  // operation in progress
	ErrVal        Err = -6  // illegal value
	ErrWouldBlock Err = -7  // operation would block
	ErrUse        Err = -8  // address in use
	ErrAlready    Err = -9  // already connecting
	ErrIsConn     Err = -10 // already connected
	ErrConn       Err = -11 // not connected
	ErrIf         Err = -12 // low-level netif error
	ErrAbrt       Err = -13 // connection aborted
	ErrRst        Err = -14 // connection reset
	ErrClsd       Err = -15 // connection closed
	ErrArg        Err = -16 // illegal argument
)

var errText = map[Err]string{
	ErrOK:         "ok",
	ErrMem:        "out of memory",
	ErrBuf:        "buffer error",
	ErrTimeout:    "timeout",
	ErrRte:        "routing problem",
	ErrInProgress: "operation in progress",
	ErrVal:        "illegal value",
	ErrWouldBlock: "operation would block",
	ErrUse:        "address in use",
	ErrAlready:    "already connecting",
	ErrIsConn:     "already connected",
	ErrConn:       "not connected",
	ErrIf:         "low-level netif error",
	ErrAbrt:       "connection aborted",
	ErrRst:        "connection reset",
	ErrClsd:       "connection closed",
	ErrArg:        "illegal argument",
}

func (e Err) Error() string {
	if text, ok := errText[e]; ok {
		return text
	}
	return fmt.Sprintf("transport error %d", int8(e))
}
