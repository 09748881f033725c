package server

import "fmt"

func (srv *Server) HandlePing(req *Request) (*Response, error) {
	return newSuccessResp("PONG"), nil
}

func (srv *Server) HandleEcho(req *Request) (*Response, error) {
	return newSuccessResp(req.Arg), nil
}

func (srv *Server) HandleStats(req *Request) (*Response, error) {
	st := srv.stats
	return newSuccessResp(fmt.Sprintf("accepted=%d rejected=%d active=%d bytes_in=%d bytes_out=%d",
		st.accepted, st.rejected, len(srv.clients), st.bytesIn, st.bytesOut)), nil
}

func (srv *Server) HandleQuit(req *Request) (*Response, error) {
	resp := newSuccessResp("BYE")
	resp.Close = true
	return resp, nil
}
