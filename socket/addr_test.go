package socket

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/stack"
	"github.com/Trinoooo/eggie_sock/stack/memstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSockaddrLayout(t *testing.T) {
	b := EncodeSockaddr(netip.MustParseAddrPort("192.168.1.10:6053"))
	require.Len(t, b, SockaddrInet4Len)
	assert.Equal(t, uint16(unix.AF_INET), binary.NativeEndian.Uint16(b[0:2]))
	assert.Equal(t, []byte{0x17, 0xa5}, b[2:4])
	assert.Equal(t, []byte{192, 168, 1, 10}, b[4:8])

	b6 := EncodeSockaddr(netip.MustParseAddrPort("[fd00::1]:80"))
	require.Len(t, b6, SockaddrInet6Len)
	ap, err := DecodeSockaddr(b6, unix.AF_INET6)
	require.Nil(t, err)
	assert.Equal(t, "[fd00::1]:80", ap.String())

	// mapped addresses encode as plain IPv4
	assert.Len(t, EncodeSockaddr(netip.MustParseAddrPort("[::ffff:10.0.0.1]:1")), SockaddrInet4Len)
}

func TestDecodeSockaddrRejects(t *testing.T) {
	v4 := EncodeSockaddr(netip.MustParseAddrPort("10.0.0.1:1"))
	_, err := DecodeSockaddr(v4[:1], unix.AF_INET)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = DecodeSockaddr(v4[:8], unix.AF_INET)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = DecodeSockaddr(v4, unix.AF_INET6)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Equal(t, 0, SockaddrLen(unix.AF_UNIX))
}

func TestBindErrors(t *testing.T) {
	s := memstack.New()
	a, err := New(s)
	require.Nil(t, err)
	defer a.Release()
	b, err := New(s)
	require.Nil(t, err)
	defer b.Release()

	require.Nil(t, a.BindAddrPort(netip.MustParseAddrPort("0.0.0.0:6053")))

	err = b.BindAddrPort(netip.MustParseAddrPort("0.0.0.0:6053"))
	assert.ErrorIs(t, err, errs.ErrAddressInUse)
	assert.ErrorIs(t, err, unix.EADDRINUSE)

	// not an address of this stack
	assert.ErrorIs(t, b.BindAddrPort(netip.MustParseAddrPort("10.9.9.9:1")), errs.ErrInvalidArgument)
	assert.ErrorIs(t, b.BindAddrPort(netip.MustParseAddrPort("[::]:1")), errs.ErrInvalidArgument)
	assert.ErrorIs(t, b.Bind(make([]byte, 3)), errs.ErrInvalidArgument)

	s.FailNext(memstack.OpBind, stack.ErrRte)
	assert.ErrorIs(t, b.BindAddrPort(netip.MustParseAddrPort("0.0.0.0:1")), errs.ErrIo)

	require.Nil(t, b.BindAddrPort(netip.MustParseAddrPort("192.168.1.10:0")))
	name, err := b.SockName()
	require.Nil(t, err)
	assert.NotZero(t, name.Port())
	assert.Equal(t, "192.168.1.10", b.SockNameString())
}

func TestGetSockName(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 8080, 1)
	defer l.Release()

	_, err := l.GetSockName(make([]byte, 8))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	buf := make([]byte, 32)
	n, err := l.GetSockName(buf)
	require.Nil(t, err)
	assert.Equal(t, SockaddrInet4Len, n)
	ap, err := DecodeSockaddr(buf[:n], unix.AF_INET)
	require.Nil(t, err)
	assert.Equal(t, "0.0.0.0:8080", ap.String())

	// a listener has no peer
	n, err = l.GetPeerName(buf)
	require.Nil(t, err)
	ap, err = DecodeSockaddr(buf[:n], unix.AF_INET)
	require.Nil(t, err)
	assert.Equal(t, "0.0.0.0:0", ap.String())
}

// TestIPv6Family IPv6 协议栈只接受 sockaddr_in6
func TestIPv6Family(t *testing.T) {
	s := memstack.New(memstack.WithFamily(unix.AF_INET6))
	l, err := New(s)
	require.Nil(t, err)
	defer l.Release()
	assert.Equal(t, unix.AF_INET6, l.Family())

	assert.ErrorIs(t, l.BindAddrPort(netip.MustParseAddrPort("0.0.0.0:80")), errs.ErrInvalidArgument)
	require.Nil(t, l.BindAddrPort(netip.MustParseAddrPort("[::]:80")))
	require.Nil(t, l.Listen(2))

	peer := netip.MustParseAddrPort("[fd00::2]:5555")
	_, err = s.Connect(peer, 80)
	require.Nil(t, err)

	name := make([]byte, SockaddrInet6Len)
	c, n, err := l.Accept(name)
	require.Nil(t, err)
	defer c.Release()
	assert.Equal(t, SockaddrInet6Len, n)
	got, err := DecodeSockaddr(name, unix.AF_INET6)
	require.Nil(t, err)
	assert.Equal(t, peer, got)
	assert.Equal(t, "fd00::10", c.SockNameString())
}
