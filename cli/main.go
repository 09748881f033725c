//go:build unix

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/utils"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
)

func main() {
	wrapper := NewCliWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "server host name.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				return errors.New("invalid params")
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagTimeout = &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Value:   5 * time.Second,
		Usage:   "how long to wait for a reply.",
	}
)

type CliWrapper struct {
	app *cli.App
}

func NewCliWrapper() *CliWrapper {
	wrapper := &CliWrapper{
		app: &cli.App{
			Name:    "eggie_sock_client",
			Usage:   "client for - a line protocol server on non-blocking sockets",
			Version: consts.Version,
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *CliWrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *CliWrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
}

func (wrapper *CliWrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
		flagTimeout,
	}
}

func (wrapper *CliWrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		cancelCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		addr := net.JoinHostPort(ctx.String("host"), strconv.FormatInt(ctx.Int64("port"), 10))
		timeout := ctx.Duration("timeout")
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			log.Println(utils.WrapError("connect %s failed, err: %v", addr, err))
			return nil
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		fmt.Println(utils.WrapInfo("connected to %s", addr))

		input, err := readline.NewEx(&readline.Config{
			Prompt: fmt.Sprintf("%s> ", addr),
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("PING"),
				readline.PcItem("ECHO"),
				readline.PcItem("STATS"),
				readline.PcItem("QUIT"),
			),
			HistoryFile: fmt.Sprintf("%s/cli/cmd_history_%s", consts.TmpDir, time.Now().Format("20060102")),
		})
		if err != nil {
			log.Fatal(err)
		}
		defer input.Close()

		cSignal := make(chan os.Signal, 1)
		signal.Notify(cSignal, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-cSignal
			cancel()
		}()

		for {
			select {
			case <-cancelCtx.Done():
				return nil
			default:
				str, err := input.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						return errors.New("exit")
					}
					log.Println(err)
					continue
				}
				str = strings.TrimSpace(str)
				if str == "" {
					continue
				}
				if strings.EqualFold(str, "exit") {
					return nil
				}
				closed, err := roundTrip(conn, reader, str, timeout)
				if err != nil {
					fmt.Println(utils.WrapError("%v", err))
					return nil
				}
				if closed {
					return nil
				}
			}
		}
	}
}

// roundTrip sends one request line and prints the reply line. closed is true
// once the server hung up.
func roundTrip(conn net.Conn, reader *bufio.Reader, line string, timeout time.Duration) (closed bool, err error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return false, err
	}
	reply, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Println(utils.WrapWarn("server closed the connection"))
			return true, nil
		}
		return false, err
	}

	reply = strings.TrimRight(reply, "\r\n")
	if strings.HasPrefix(reply, "-") {
		fmt.Println(utils.WrapError("%s", reply[1:]))
	} else {
		fmt.Println(utils.WrapReply(strings.TrimPrefix(reply, "+")))
	}
	if strings.EqualFold(line, "quit") {
		return true, nil
	}
	return false, nil
}

func (wrapper *CliWrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
