package server

import (
	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

type HandleFunc func(req *Request) (*Response, error)

type MiddlewareFunc func(handleFn HandleFunc) HandleFunc

func LogMw(handleFn HandleFunc) HandleFunc {
	return func(req *Request) (*Response, error) {
		// render 开销不小，debug 关闭时不做
		if ce := logs.Check(zap.DebugLevel, "req"); ce != nil {
			ce.Write(zap.String(consts.LogFieldValue, render.Render(req)))
		}
		resp, err := handleFn(req)
		if ce := logs.Check(zap.DebugLevel, "resp"); ce != nil {
			ce.Write(zap.String(consts.LogFieldValue, render.Render(resp)), zap.Error(err))
		}
		return resp, err
	}
}

// FrameValidateMw 拒绝空命令和超过 limit 的行
func FrameValidateMw(limit int) MiddlewareFunc {
	return func(handleFn HandleFunc) HandleFunc {
		return func(req *Request) (*Response, error) {
			if req.Cmd == "" {
				e := errs.NewInvalidParamErr()
				logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "cmd"), zap.String(consts.LogFieldRemote, req.Remote))
				return newExceptionResp(e), e
			}
			if req.Size > limit {
				e := errs.NewInvalidParamErr()
				logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "size"), zap.Int(consts.LogFieldValue, req.Size))
				return newExceptionResp(e), e
			}
			return handleFn(req)
		}
	}
}
