package server

import (
	"bytes"
	"errors"
	"net/netip"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/Trinoooo/eggie_sock/socket"
	"github.com/Trinoooo/eggie_sock/stack"
	"go.uber.org/zap"
)

// Server 在非阻塞 socket 上运行行协议，内部没有任何阻塞：
// Poll 把当前能做的 accept、读、写做完就返回，没发出去的回复留到下一轮。
// 所有方法都必须在传输层的事件协程上调用。
type Server struct {
	cfg      *Config
	stk      stack.Stack
	metrics  *MetricsHelper
	handlers map[string]HandleFunc
	mws      []MiddlewareFunc

	listener *socket.Conn
	clients  map[*socket.Conn]*client
	rbuf     []byte
	stats    stats
	closed   bool
}

type stats struct {
	accepted int64
	rejected int64
	bytesIn  int64
	bytesOut int64
}

type client struct {
	conn   *socket.Conn
	remote string
	in     []byte
	out    []byte
	// no more requests, close once out is written
	closing bool
	// the socket failed, out can never be written
	dead bool
}

func NewServer(cfg *Config, stk stack.Stack, metrics *MetricsHelper) *Server {
	srv := &Server{
		cfg:      cfg,
		stk:      stk,
		metrics:  metrics,
		handlers: map[string]HandleFunc{},
		mws:      make([]MiddlewareFunc, 0),
		clients:  map[*socket.Conn]*client{},
		rbuf:     make([]byte, 4*consts.KB),
	}
	srv.withMiddleware(
		FrameValidateMw(cfg.FrameLimit),
		LogMw,
	)
	srv.withHandler(CmdPing, srv.HandlePing)
	srv.withHandler(CmdEcho, srv.HandleEcho)
	srv.withHandler(CmdStats, srv.HandleStats)
	srv.withHandler(CmdQuit, srv.HandleQuit)
	return srv
}

func (srv *Server) withHandler(cmd string, handler HandleFunc) {
	srv.handlers[cmd] = handler
}

func (srv *Server) withMiddleware(mw ...MiddlewareFunc) {
	srv.mws = append(srv.mws, mw...)
}

// Listen 在配置的 host、port 上打开监听 socket
func (srv *Server) Listen() error {
	if srv.closed {
		e := errs.NewServerClosedErr()
		logs.Error(e.Error())
		return e
	}
	ip, err := netip.ParseAddr(srv.cfg.Host)
	if err != nil {
		e := errs.NewInvalidParamErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "host"), zap.String(consts.LogFieldValue, srv.cfg.Host))
		return e
	}

	l, err := socket.New(srv.stk)
	if err != nil {
		return err
	}
	if err := l.BindAddrPort(netip.AddrPortFrom(ip, uint16(srv.cfg.Port))); err != nil {
		l.Release()
		return err
	}
	if err := l.Listen(srv.cfg.Backlog); err != nil {
		l.Release()
		return err
	}
	srv.listener = l

	local, _ := l.SockName()
	logs.Info("server listening", zap.String(consts.LogFieldLocal, local.String()))
	return nil
}

// Addr 监听地址，Listen 之前为零值
func (srv *Server) Addr() netip.AddrPort {
	if srv.listener == nil {
		return netip.AddrPort{}
	}
	ap, _ := srv.listener.SockName()
	return ap
}

// Poll 对监听 socket 和所有客户端执行一轮非阻塞处理
func (srv *Server) Poll() {
	if srv.closed || srv.listener == nil {
		return
	}
	srv.acceptAll()
	for _, cl := range srv.clients {
		srv.serve(cl)
	}
}

// Shutdown 对每个客户端最后尝试写一次后关闭，再关闭监听 socket。可以重复调用。
func (srv *Server) Shutdown() {
	if srv.closed {
		return
	}
	srv.closed = true
	for _, cl := range srv.clients {
		srv.flush(cl)
		srv.drop(cl)
	}
	if srv.listener != nil {
		_ = srv.listener.Close()
	}
	logs.Info("server shutdown", zap.Int64(consts.LogFieldValue, srv.stats.accepted))
}

func (srv *Server) acceptAll() {
	for {
		c, _, err := srv.listener.Accept(nil)
		if err != nil {
			if !errors.Is(err, errs.ErrWouldBlock) {
				srv.metrics.countErr(err)
				logs.Error("accept failed", zap.Error(err))
			}
			return
		}

		if len(srv.clients) >= srv.cfg.MaxConnections {
			srv.reject(c)
			continue
		}
		if err := c.SetNoDelay(srv.cfg.NoDelay); err != nil {
			logs.Warn("set nodelay failed", zap.Error(err))
		}
		cl := &client{conn: c, remote: c.PeerNameString()}
		srv.clients[c] = cl
		srv.stats.accepted++
		srv.metrics.ConnectionAcceptCounter.Inc()
		srv.metrics.ActiveConnections.Set(float64(len(srv.clients)))
		logs.Debug("client connected", zap.String(consts.LogFieldRemote, cl.remote))
	}
}

// reject 回复一次后关闭，发送缓冲区放不下的部分直接丢弃
func (srv *Server) reject(c *socket.Conn) {
	e := errs.NewTooManyConnectionsErr()
	logs.Warn(e.Error(), zap.String(consts.LogFieldRemote, c.PeerNameString()), zap.Int(consts.LogFieldValue, len(srv.clients)))
	_, _ = c.Write(newExceptionResp(e).Encode())
	_ = c.Close()
	srv.stats.rejected++
	srv.metrics.ConnectionRejectCounter.Inc()
}

func (srv *Server) serve(cl *client) {
	srv.flush(cl)
	if !cl.closing {
		eof := srv.fill(cl)
		srv.process(cl)
		if eof {
			cl.closing = true
		}
		srv.flush(cl)
	}
	if cl.closing && (len(cl.out) == 0 || cl.dead) {
		srv.drop(cl)
	}
}

// fill 一直读到 socket 会阻塞为止，对端结束时返回 true
func (srv *Server) fill(cl *client) bool {
	for {
		n, err := cl.conn.Read(srv.rbuf)
		if err != nil {
			if errors.Is(err, errs.ErrWouldBlock) {
				srv.metrics.WouldBlockCounter.WithLabelValues("read").Inc()
				return false
			}
			if !errors.Is(err, errs.ErrConnectionReset) {
				e := errs.NewReadSocketErr().WithErr(err)
				srv.metrics.countErr(e)
				logs.Warn(e.Error(), zap.String(consts.LogFieldRemote, cl.remote))
			}
			return true
		}
		cl.in = append(cl.in, srv.rbuf[:n]...)
		srv.stats.bytesIn += int64(n)
		srv.metrics.BytesInCounter.Add(float64(n))
	}
}

func (srv *Server) process(cl *client) {
	for !cl.closing {
		idx := bytes.IndexByte(cl.in, '\n')
		if idx < 0 {
			if len(cl.in) > srv.cfg.FrameLimit {
				e := errs.NewInvalidParamErr()
				logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "frame"), zap.Int(consts.LogFieldValue, len(cl.in)))
				srv.metrics.countErr(e)
				cl.out = append(cl.out, newExceptionResp(e).Encode()...)
				cl.in = nil
				cl.closing = true
			}
			return
		}

		line := bytes.TrimRight(cl.in[:idx], "\r")
		cl.in = cl.in[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		resp := srv.dispatch(parseRequest(line, cl.remote))
		cl.out = append(cl.out, resp.Encode()...)
		if resp.Close {
			cl.closing = true
		}
	}
}

func (srv *Server) dispatch(req *Request) *Response {
	handler, ok := srv.handlers[req.Cmd]
	if !ok {
		e := errs.NewUnsupportedCmdErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldParams, req.Cmd))
		srv.metrics.countErr(e)
		return newExceptionResp(e)
	}

	wrappedHandler := handler
	for _, mw := range srv.mws {
		wrappedHandler = mw(wrappedHandler)
	}

	resp, err := wrappedHandler(req)
	if err != nil {
		srv.metrics.countErr(err)
		return newExceptionResp(err)
	}
	srv.metrics.RequestCounter.WithLabelValues(req.Cmd).Inc()
	return resp
}

// flush 写出待发送的回复，直到 socket 会阻塞
func (srv *Server) flush(cl *client) {
	for len(cl.out) > 0 && !cl.dead {
		n, err := cl.conn.Write(cl.out)
		cl.out = cl.out[n:]
		srv.stats.bytesOut += int64(n)
		srv.metrics.BytesOutCounter.Add(float64(n))
		if err != nil {
			if errors.Is(err, errs.ErrWouldBlock) {
				srv.metrics.WouldBlockCounter.WithLabelValues("write").Inc()
				return
			}
			e := errs.NewWriteSocketErr().WithErr(err)
			srv.metrics.countErr(e)
			logs.Warn(e.Error(), zap.String(consts.LogFieldRemote, cl.remote))
			cl.dead = true
			cl.closing = true
			return
		}
	}
}

func (srv *Server) drop(cl *client) {
	// a socket the transport already tore down still frees its buffers here
	_ = cl.conn.Close()
	delete(srv.clients, cl.conn)
	srv.metrics.ActiveConnections.Set(float64(len(srv.clients)))
	logs.Debug("client closed", zap.String(consts.LogFieldRemote, cl.remote))
}
