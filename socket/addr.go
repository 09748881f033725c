package socket

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/socket/logs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// 原始 socket 地址采用 Linux 的内存布局：family 为主机字节序，
// port 为网络字节序，之后是地址本身。
//
//	sockaddr_in   [0:2] family [2:4] port [4:8] addr [8:16] zero
//	sockaddr_in6  [0:2] family [2:4] port [4:8] flowinfo [8:24] addr [24:28] scope id
const (
	SockaddrInet4Len = unix.SizeofSockaddrInet4
	SockaddrInet6Len = unix.SizeofSockaddrInet6
)

// SockaddrLen 返回 family 对应结构体的固定长度，不支持的 family 返回 0
func SockaddrLen(family int) int {
	switch family {
	case unix.AF_INET:
		return SockaddrInet4Len
	case unix.AF_INET6:
		return SockaddrInet6Len
	default:
		return 0
	}
}

// EncodeSockaddr 把 ap 编码成原始地址。
// IPv4（包括 IPv4-mapped IPv6）编码为 sockaddr_in，其余为 sockaddr_in6。
func EncodeSockaddr(ap netip.AddrPort) []byte {
	family := unix.AF_INET6
	if ap.Addr().Unmap().Is4() {
		family = unix.AF_INET
	}
	b := make([]byte, SockaddrLen(family))
	writeSockaddr(b, family, ap)
	return b
}

// DecodeSockaddr 解析原始地址，要求 family 一致且长度不小于对应结构体。
func DecodeSockaddr(b []byte, family int) (netip.AddrPort, error) {
	if len(b) < 2 {
		e := errs.NewInvalidArgumentErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "addrlen"), zap.Int(consts.LogFieldValue, len(b)))
		return netip.AddrPort{}, e
	}

	got := int(binary.NativeEndian.Uint16(b[0:2]))
	if got != family {
		e := errs.NewInvalidArgumentErr().WithErr(fmt.Errorf("address family %d, want %d", got, family))
		logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "family"), zap.Int(consts.LogFieldValue, got))
		return netip.AddrPort{}, e
	}

	if len(b) < SockaddrLen(family) {
		e := errs.NewInvalidArgumentErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "addrlen"), zap.Int(consts.LogFieldValue, len(b)))
		return netip.AddrPort{}, e
	}

	port := binary.BigEndian.Uint16(b[2:4])
	if family == unix.AF_INET {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[4:8])), port), nil
	}
	return netip.AddrPortFrom(netip.AddrFrom16([16]byte(b[8:24])), port), nil
}

// putSockaddr 把 ap 按 family 结构写入调用方的 buffer，返回写入长度。
// buffer 不够时直接拒绝，不做截断。
func putSockaddr(b []byte, family int, ap netip.AddrPort) (int, error) {
	size := SockaddrLen(family)
	if len(b) < size {
		e := errs.NewInvalidArgumentErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldParams, "addrlen"), zap.Int(consts.LogFieldValue, len(b)))
		return 0, e
	}
	writeSockaddr(b[:size], family, ap)
	return size, nil
}

func writeSockaddr(b []byte, family int, ap netip.AddrPort) {
	clear(b)
	binary.NativeEndian.PutUint16(b[0:2], uint16(family))
	binary.BigEndian.PutUint16(b[2:4], ap.Port())
	addr := familyAddr(family, ap.Addr())
	if family == unix.AF_INET {
		ip4 := addr.As4()
		copy(b[4:8], ip4[:])
		return
	}
	ip6 := addr.As16()
	copy(b[8:24], ip6[:])
}

// familyAddr 把 a 转成 family 对应的表示，未设置的地址视为该 family 的通配地址
func familyAddr(family int, a netip.Addr) netip.Addr {
	if family == unix.AF_INET {
		a = a.Unmap()
		if !a.Is4() {
			return netip.IPv4Unspecified()
		}
		return a
	}
	if !a.IsValid() {
		return netip.IPv6Unspecified()
	}
	return netip.AddrFrom16(a.As16())
}
