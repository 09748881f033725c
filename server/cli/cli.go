package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/server"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"f"},
		Usage:   "config file path, defaults to config.yaml under ~/eggie_sock/config.",
		EnvVars: []string{consts.Config},
	}
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "listen address, an IPv4 or IPv6 literal.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int64(consts.LogFieldValue, port))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagBacklog = &cli.Int64Flag{
		Name:    "backlog",
		Aliases: []string{"b"},
		Value:   16,
		Usage:   "listen backlog, 0 < backlog <= 4096 are available.",
		Action: func(c *cli.Context, backlog int64) error {
			if backlog <= 0 || backlog > 4096 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "backlog"), zap.Int64(consts.LogFieldValue, backlog))
				return e
			}
			return nil
		},
	}
	flagConnection = &cli.Int64Flag{
		Name:    "max-connect-number",
		Aliases: []string{"c"},
		Value:   200,
		Usage:   "max connection number, 0 < number <= 4000 are available.",
		Action: func(context *cli.Context, number int64) error {
			if number <= 0 || number > 4000 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "number"), zap.Int64(consts.LogFieldValue, number))
				return e
			}
			return nil
		},
		EnvVars: []string{"EGGIE_SOCK_MAX_CONNECT_NUMBER"},
	}
	flagNoDelay = &cli.BoolFlag{
		Name:  "no-delay",
		Value: true,
		Usage: "disable Nagle's algorithm on accepted connections.",
	}
	flagMetricsAddr = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "expose prometheus metrics on this address, empty to disable.",
	}
)

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "sockd",
			Usage:   "a line protocol server on non-blocking sockets",
			Version: consts.Version,
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagConfig,
		flagHost,
		flagPort,
		flagBacklog,
		flagConnection,
		flagNoDelay,
		flagMetricsAddr,
	}
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		cfg, err := server.LoadConfig(ctx.String(flagConfig.Name))
		if err != nil {
			return err
		}
		applyFlags(ctx, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		cancelCtx, cancel := context.WithCancel(ctx.Context)
		defer cancel()
		go func() {
			// bugfix: 使用缓冲通道避免执行信号处理程序之前有信号到达会被丢弃
			sig := make(chan os.Signal, 5)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			logs.Info("shutdown...")
			cancel()
		}()

		return server.Serve(cancelCtx, cfg)
	}
}

// applyFlags 显式设置的命令行参数优先于配置文件
func applyFlags(ctx *cli.Context, cfg *server.Config) {
	if ctx.IsSet(flagHost.Name) {
		cfg.Host = ctx.String(flagHost.Name)
	}
	if ctx.IsSet(flagPort.Name) {
		cfg.Port = int(ctx.Int64(flagPort.Name))
	}
	if ctx.IsSet(flagBacklog.Name) {
		cfg.Backlog = int(ctx.Int64(flagBacklog.Name))
	}
	if ctx.IsSet(flagConnection.Name) {
		cfg.MaxConnections = int(ctx.Int64(flagConnection.Name))
	}
	if ctx.IsSet(flagNoDelay.Name) {
		cfg.NoDelay = ctx.Bool(flagNoDelay.Name)
	}
	if ctx.IsSet(flagMetricsAddr.Name) {
		cfg.Metrics.Addr = ctx.String(flagMetricsAddr.Name)
	}
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
