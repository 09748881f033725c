package netstack

import (
	"net"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bindSocket 创建并绑定一个还没有 listen 的 TCP socket，返回 fd 和实际绑定的地址。
// listen 推迟到 listenSocket，这样 backlog 由调用方决定。
func bindSocket(family int, ip netip.Addr, port uint16) (int, netip.AddrPort, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, netip.AddrPort{}, errors.Wrap(err, "socket")
	}
	unix.CloseOnExec(fd)

	if err := setupSocket(fd, family); err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, err
	}
	if err := unix.Bind(fd, toSockaddr(family, ip, port)); err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, errors.Wrap(err, "bind")
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, errors.Wrap(err, "getsockname")
	}
	return fd, fromSockaddr(sa), nil
}

// setupSocket 与 net.ListenTCP 的默认设置保持一致
func setupSocket(fd, family int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return errors.Wrap(err, "setsockopt IPV6_V6ONLY")
		}
	}
	return nil
}

// listenSocket 在 fd 上 listen 并转换成 *net.TCPListener。
// consumed 为 true 时 fd 已经关闭（成功时由 listener 持有一份 dup）。
func listenSocket(fd, backlog int) (ln *net.TCPListener, consumed bool, err error) {
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, false, errors.Wrap(err, "listen")
	}

	f := os.NewFile(uintptr(fd), "netstack-listener")
	l, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, true, errors.Wrap(err, "file listener")
	}
	tl, ok := l.(*net.TCPListener)
	if !ok {
		_ = l.Close()
		return nil, true, errors.Errorf("unexpected listener %T", l)
	}
	return tl, true, nil
}

func toSockaddr(family int, ip netip.Addr, port uint16) unix.Sockaddr {
	if family == unix.AF_INET {
		return &unix.SockaddrInet4{Port: int(port), Addr: ip.Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: ip.As16()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
