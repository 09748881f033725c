package server

import (
	"bytes"
	"errors"
	"strings"

	"github.com/Trinoooo/eggie_sock/errs"
)

// 行协议的命令。每行一个请求，回复也是一行，成功以 '+' 开头，失败以 '-' 开头。
const (
	CmdPing  = "PING"
	CmdEcho  = "ECHO"
	CmdStats = "STATS"
	CmdQuit  = "QUIT"
)

type Request struct {
	Cmd    string
	Arg    string
	Remote string
	Size   int
}

type Response struct {
	OK      bool
	Message string
	// close the connection once the reply is written
	Close bool
}

func parseRequest(line []byte, remote string) *Request {
	size := len(line)
	line = bytes.TrimSpace(line)
	cmd, arg, _ := bytes.Cut(line, []byte{' '})
	return &Request{
		Cmd:    strings.ToUpper(string(cmd)),
		Arg:    string(bytes.TrimSpace(arg)),
		Remote: remote,
		Size:   size,
	}
}

func (resp *Response) Encode() []byte {
	prefix := byte('-')
	if resp.OK {
		prefix = '+'
	}
	b := make([]byte, 0, len(resp.Message)+2)
	b = append(b, prefix)
	b = append(b, resp.Message...)
	return append(b, '\n')
}

func newExceptionResp(err error) *Response {
	var sockErr = errs.NewUnknownErr()
	errors.As(err, &sockErr)
	return &Response{
		Message: "ERR " + sockErr.Error(),
	}
}

func newSuccessResp(msg string) *Response {
	return &Response{
		OK:      true,
		Message: msg,
	}
}
