package server

import (
	"context"
	"net/netip"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/Trinoooo/eggie_sock/stack/netstack"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Serve 在系统 socket 上运行行协议服务，直到 ctx 结束
func Serve(ctx context.Context, cfg *Config) error {
	metrics := NewMetricsHelper()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logs.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}
	if cfg.Metrics.PushURL != "" {
		go metrics.Push(ctx, cfg.Metrics.PushURL, cfg.Metrics.PushInterval)
	}

	family := unix.AF_INET
	if ip, err := netip.ParseAddr(cfg.Host); err == nil && !ip.Unmap().Is4() {
		family = unix.AF_INET6
	}

	loop := netstack.NewLoop(cfg.PollInterval)
	stk := netstack.New(loop,
		netstack.WithFamily(family),
		netstack.WithSendBuffer(cfg.SendBuffer),
		netstack.WithRecvWindow(cfg.RecvWindow),
		// rejected connections need a handle before they can be answered
		netstack.WithMaxHandles(cfg.MaxConnections+16),
	)
	srv := NewServer(cfg, stk, metrics)
	loop.OnTick(srv.Poll)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
			loop.Exec(srv.Shutdown)
			stop()
		case <-runCtx.Done():
		}
	}()

	var listenErr error
	loop.Post(func() {
		if listenErr = srv.Listen(); listenErr != nil {
			stop()
		}
	})

	logs.Info("serve", zap.String(consts.LogFieldLocal, cfg.Host), zap.Int(consts.LogFieldValue, cfg.Port))
	if err := loop.Run(runCtx); err != nil {
		return err
	}
	return listenErr
}
