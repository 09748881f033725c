package socket

import (
	"net/netip"
	"testing"

	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/stack"
	"github.com/Trinoooo/eggie_sock/stack/memstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newListener(t *testing.T, s *memstack.Stack, port uint16, backlog int) *Conn {
	l, err := New(s)
	require.Nil(t, err)
	require.Nil(t, l.BindAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), port)))
	require.Nil(t, l.Listen(backlog))
	return l
}

// connected 建立一条连接并返回 accept 得到的子连接与对端
func connected(t *testing.T, s *memstack.Stack) (*Conn, *memstack.Peer) {
	l := newListener(t, s, 8080, 4)
	peer, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
	require.Nil(t, err)
	c, _, err := l.Accept(nil)
	require.Nil(t, err)
	l.Release()
	return c, peer
}

// TestReadAcrossSegments 5/3/7 字节到达，按 4/4/7 读取，得到相同的字节流，每次读取恰好一次窗口确认
func TestReadAcrossSegments(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	require.Nil(t, peer.Send([]byte("abcde")))
	require.Nil(t, peer.Send([]byte("fgh")))
	require.Nil(t, peer.Send([]byte("ijklmno")))
	assert.Equal(t, 15, c.Buffered())

	var got []byte
	for _, size := range []int{4, 4, 7} {
		buf := make([]byte, size)
		n, err := c.Read(buf)
		require.Nil(t, err)
		assert.Equal(t, size, n)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "abcdefghijklmno", string(got))
	assert.Equal(t, []int{4, 4, 7}, peer.Credits())
	assert.Equal(t, 0, s.Segments())

	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errs.ErrWouldBlock)
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestReadOneChain(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	require.Nil(t, peer.SendChain([]byte("ab"), nil, []byte("cdef")))
	// the empty segment is released on arrival
	assert.Equal(t, 2, s.Segments())

	buf := make([]byte, 3)
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, 1, s.Segments())

	n, err = c.Read(make([]byte, 64))
	require.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{3, 3}, peer.Credits())
}

func TestReadZeroLength(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	n, err := c.Read(nil)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)

	require.Nil(t, peer.Send([]byte("x")))
	n, err = c.Read([]byte{})
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, c.Buffered())
	assert.Empty(t, peer.Credits())
}

// TestPeerFinDrainThenReset 对端关闭写之后，缓冲的数据仍可读出，读完之后报 reset
func TestPeerFinDrainThenReset(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	require.Nil(t, peer.Send([]byte("bye")))
	require.Nil(t, peer.CloseWrite())
	assert.True(t, c.RxClosed())

	buf := make([]byte, 8)
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "bye", string(buf[:n]))

	_, err = c.Read(buf)
	assert.ErrorIs(t, err, errs.ErrConnectionReset)
	// fin alone does not tear the handle down
	assert.Equal(t, StateOpen, c.State())
	n, err = c.Write([]byte("ok"))
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
}

// TestErrorCallbackTearsDown 传输层报错之后，除了读取缓冲数据之外的操作都返回 BadHandle
func TestErrorCallbackTearsDown(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	require.Nil(t, peer.Send([]byte("left")))
	require.Nil(t, peer.Reset())
	assert.Equal(t, StateTornDown, c.State())

	_, err := c.Write([]byte("x"))
	assert.ErrorIs(t, err, errs.ErrBadHandle)
	assert.ErrorIs(t, c.Bind(EncodeSockaddr(netip.MustParseAddrPort("0.0.0.0:1"))), errs.ErrBadHandle)
	assert.ErrorIs(t, c.Listen(1), errs.ErrBadHandle)
	assert.ErrorIs(t, c.Shutdown(unix.SHUT_WR), errs.ErrBadHandle)
	assert.ErrorIs(t, c.SetBlocking(false), errs.ErrBadHandle)
	_, err = c.GetPeerName(make([]byte, SockaddrInet4Len))
	assert.ErrorIs(t, err, errs.ErrBadHandle)
	_, _, err = c.Accept(nil)
	assert.ErrorIs(t, err, errs.ErrBadHandle)
	assert.Equal(t, "", c.PeerNameString())

	buf := make([]byte, 2)
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "le", string(buf[:n]))
	n, err = c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "ft", string(buf[:n]))
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, errs.ErrConnectionReset)
	assert.ErrorIs(t, err, unix.ECONNRESET)

	// no credit once the handle is gone
	assert.Empty(t, peer.Credits())
	assert.Equal(t, 0, s.Segments())
	assert.ErrorIs(t, c.Close(), errs.ErrBadHandle)
}

func TestRecvErrorReleasesPayload(t *testing.T) {
	s := memstack.New()
	c, peer := connected(t, s)

	require.Nil(t, peer.SendError([]byte("junk"), stack.ErrBuf))
	assert.Equal(t, 0, s.Segments())
	assert.True(t, c.RxClosed())
	_, err := c.Read(make([]byte, 4))
	assert.ErrorIs(t, err, errs.ErrConnectionReset)
}

// TestAcceptOrder K 个连接按到达顺序被 accept，第 K+1 次返回 WouldBlock
func TestAcceptOrder(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 8080, 8)
	defer l.Release()

	peers := []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.2:40000"),
		netip.MustParseAddrPort("10.0.0.3:40001"),
		netip.MustParseAddrPort("10.0.0.4:40002"),
	}
	for _, p := range peers {
		_, err := s.Connect(p, 8080)
		require.Nil(t, err)
	}
	assert.Equal(t, len(peers), l.Pending())

	for _, p := range peers {
		name := make([]byte, SockaddrInet4Len)
		c, n, err := l.Accept(name)
		require.Nil(t, err)
		assert.Equal(t, SockaddrInet4Len, n)
		got, err := DecodeSockaddr(name[:n], unix.AF_INET)
		require.Nil(t, err)
		assert.Equal(t, p, got)
		assert.Equal(t, p.Addr().String(), c.PeerNameString())
		assert.Equal(t, "192.168.1.10", c.SockNameString())
		c.Release()
	}

	_, _, err := l.Accept(nil)
	assert.ErrorIs(t, err, errs.ErrWouldBlock)
}

// TestBindListenOneTwoInbound listen(1) 之后两个连接，两次 accept 成功，第三次 WouldBlock
func TestBindListenOneTwoInbound(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 6053, 1)
	defer l.Release()

	a := netip.MustParseAddrPort("10.0.0.2:5000")
	b := netip.MustParseAddrPort("10.0.0.3:5001")
	_, err := s.Connect(a, 6053)
	require.Nil(t, err)
	_, err = s.Connect(b, 6053)
	require.Nil(t, err)

	for _, want := range []netip.AddrPort{a, b} {
		c, _, err := l.Accept(nil)
		require.Nil(t, err)
		got, err := c.PeerName()
		require.Nil(t, err)
		assert.Equal(t, want, got)
		c.Release()
	}
	_, _, err = l.Accept(nil)
	assert.ErrorIs(t, err, errs.ErrWouldBlock)
}

func TestAcceptShortName(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 8080, 1)
	defer l.Release()
	_, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
	require.Nil(t, err)

	c, n, err := l.Accept(make([]byte, 4))
	require.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StateOpen, c.State())
	c.Release()
}

// TestAcceptHeldEvents accept 之前到达的数据、FIN 和 RST 都在 accept 之后生效
func TestAcceptHeldEvents(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 8080, 4)
	defer l.Release()

	early, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
	require.Nil(t, err)
	require.Nil(t, early.Send([]byte("early")))
	require.Nil(t, early.CloseWrite())

	doomed, err := s.Connect(netip.MustParseAddrPort("10.0.0.3:40000"), 8080)
	require.Nil(t, err)
	require.Nil(t, doomed.Reset())

	c, _, err := l.Accept(nil)
	require.Nil(t, err)
	buf := make([]byte, 16)
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "early", string(buf[:n]))
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, errs.ErrConnectionReset)
	assert.Nil(t, c.Close())

	name := make([]byte, SockaddrInet4Len)
	d, n, err := l.Accept(name)
	require.Nil(t, err)
	assert.Equal(t, SockaddrInet4Len, n)
	assert.Equal(t, StateTornDown, d.State())
	_, err = d.Read(buf)
	assert.ErrorIs(t, err, errs.ErrConnectionReset)
	d.Release()
}

func TestAcceptDropsFailedInbound(t *testing.T) {
	s := memstack.New(memstack.WithMaxHandles(2))
	l := newListener(t, s, 8080, 4)
	defer l.Release()

	_, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
	require.Nil(t, err)
	_, err = s.Connect(netip.MustParseAddrPort("10.0.0.3:40000"), 8080)
	assert.Equal(t, stack.ErrMem, err)
	assert.Equal(t, 1, l.Pending())
}

func TestCloseReleasesQueuedChildren(t *testing.T) {
	s := memstack.New()
	l := newListener(t, s, 8080, 4)
	p1, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
	require.Nil(t, err)
	p2, err := s.Connect(netip.MustParseAddrPort("10.0.0.3:40000"), 8080)
	require.Nil(t, err)
	require.Nil(t, p1.Send([]byte("queued")))

	assert.Nil(t, l.Close())
	assert.Equal(t, 0, s.Live())
	assert.Equal(t, 0, s.Segments())
	assert.True(t, p1.WasReset())
	assert.True(t, p2.WasReset())
	assert.Equal(t, StateTornDown, l.State())

	// port is free again
	again := newListener(t, s, 8080, 1)
	again.Release()
}

func TestNewExhausted(t *testing.T) {
	s := memstack.New(memstack.WithMaxHandles(1))
	c, err := New(s)
	require.Nil(t, err)
	defer c.Release()

	_, err = New(s)
	assert.ErrorIs(t, err, errs.ErrResourceExhausted)
	assert.ErrorIs(t, err, unix.ENOMEM)
}

func TestSetBlocking(t *testing.T) {
	s := memstack.New()
	c, err := New(s)
	require.Nil(t, err)
	defer c.Release()

	assert.Nil(t, c.SetBlocking(false))
	assert.ErrorIs(t, c.SetBlocking(true), errs.ErrInvalidArgument)
}

// TestAdapterNeverTouchesFreedHandle memstack 对已释放句柄的任何调用都会 panic
func TestAdapterNeverTouchesFreedHandle(t *testing.T) {
	s := memstack.New()
	assert.NotPanics(t, func() {
		c, peer := connected(t, s)
		require.Nil(t, peer.Send([]byte("a")))
		require.Nil(t, peer.Reset())
		_, _ = c.Read(make([]byte, 1))
		_, _ = c.Read(make([]byte, 1))
		_, _ = c.Write([]byte("b"))
		_ = c.SetNoDelay(true)
		_, _ = c.NoDelay()
		_ = c.Shutdown(unix.SHUT_RDWR)
		_ = c.Close()
		c.Release()
	})
	assert.Equal(t, 0, s.Live())
}

// TestAcceptAfterListenerTornDown 监听句柄失效之后，即使队列里还有连接，accept 也返回 BadHandle；close 和 release 仍然释放排队的连接
func TestAcceptAfterListenerTornDown(t *testing.T) {
	for _, name := range []string{"close", "release"} {
		t.Run(name, func(t *testing.T) {
			s := memstack.New()
			l := newListener(t, s, 8080, 4)
			a, err := s.Connect(netip.MustParseAddrPort("10.0.0.2:40000"), 8080)
			require.Nil(t, err)
			b, err := s.Connect(netip.MustParseAddrPort("10.0.0.3:40000"), 8080)
			require.Nil(t, err)
			require.Equal(t, 2, l.Pending())

			require.Nil(t, s.ResetListener(8080))
			assert.Equal(t, StateTornDown, l.State())
			assert.Equal(t, 2, l.Pending())
			_, _, err = l.Accept(nil)
			assert.ErrorIs(t, err, errs.ErrBadHandle)
			assert.ErrorIs(t, err, unix.EBADF)
			assert.Equal(t, 2, s.Live())

			if name == "close" {
				assert.ErrorIs(t, l.Close(), errs.ErrBadHandle)
			} else {
				l.Release()
			}
			assert.Equal(t, 0, l.Pending())
			assert.Equal(t, 0, s.Live())
			assert.True(t, a.WasReset())
			assert.True(t, b.WasReset())
		})
	}
}
