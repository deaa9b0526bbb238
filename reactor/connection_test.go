//go:build linux
// +build linux

package reactor

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fzft/go-reactor/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// readN reads exactly n bytes from the non-blocking fd or fails after timeout.
func readN(t *testing.T, fd, n int, timeout time.Duration) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(timeout)
	for len(out) < n {
		require.True(t, time.Now().Before(deadline), "read %d of %d bytes before timeout", len(out), n)
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, 50); err != nil && !errors.Is(err, unix.EINTR) {
			require.NoError(t, err)
		}
		m, err := unix.Read(fd, buf)
		if err != nil {
			require.True(t, IsTemporaryError(err), "unexpected read error: %v", err)
			continue
		}
		require.NotZero(t, m, "peer closed early")
		out = append(out, buf[:m]...)
	}
	return out
}

func newConnPair(t *testing.T) (int, int) {
	t.Helper()
	// the connection side is closed by the connection itself
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestConnectionEcho(t *testing.T) {
	_, loop := startLoop(t, Options{})
	fd, peer := newConnPair(t)

	established := atomic.NewBool(false)
	closed := atomic.NewBool(false)
	sendAfterClose := atomic.NewError(nil)
	cbs := Callbacks{
		OnEstablished: func(c *Connection) error {
			established.Store(c.Loop().InOwnerThread())
			return nil
		},
		OnMessage: func(c *Connection) error {
			_, err := c.SendBuffer(c.InBuffer())
			return err
		},
		OnClosed: func(c *Connection) error {
			_, err := c.SendString("late")
			sendAfterClose.Store(err)
			closed.Store(true)
			return nil
		},
	}

	conn, err := NewConnection(fd, nil, loop, cbs, "ctx")
	require.NoError(t, err)
	assert.Equal(t, "ctx", conn.Context())
	assert.Nil(t, conn.PeerAddr())
	require.Eventually(t, established.Load, time.Second, time.Millisecond)
	assert.Equal(t, 2, loop.ChannelCount())

	_, err = unix.Write(peer, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), readN(t, peer, 3, time.Second))

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	require.Eventually(t, closed.Load, time.Second, time.Millisecond)
	assert.ErrorIs(t, sendAfterClose.Load(), ErrConnectionClosed)
	require.Eventually(t, func() bool { return loop.ChannelCount() == 1 }, time.Second, time.Millisecond)
}

func TestConnectionPartialWrite(t *testing.T) {
	_, loop := startLoop(t, Options{})
	fd, peer := newConnPair(t)
	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	require.NoError(t, unix.SetsockoptInt(peer, unix.SOL_SOCKET, unix.SO_RCVBUF, 4096))

	payload := bytes.Repeat([]byte("reactor!"), 512*1024)
	direct := atomic.NewInt64(-1)
	queuedWriting := atomic.NewBool(false)
	drained := atomic.NewBool(false)
	writes := atomic.NewInt32(0)

	cbs := Callbacks{
		OnMessage: func(c *Connection) error {
			c.InBuffer().RetrieveAll()
			n, err := c.Send(payload)
			direct.Store(int64(n))
			queuedWriting.Store(c.IsWriting() && c.OutBuffer().ReadableBytes() == len(payload)-n)
			return err
		},
		OnWriteComplete: func(c *Connection) error {
			writes.Inc()
			if c.OutBuffer().ReadableBytes() == 0 {
				drained.Store(!c.IsWriting())
			}
			return nil
		},
	}
	_, err := NewConnection(fd, nil, loop, cbs, nil)
	require.NoError(t, err)

	_, err = unix.Write(peer, []byte("go"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return direct.Load() >= 0 }, time.Second, time.Millisecond)
	assert.Less(t, direct.Load(), int64(len(payload)))
	assert.True(t, queuedWriting.Load(), "remainder should be queued with write interest on")

	got := readN(t, peer, len(payload), 10*time.Second)
	assert.Equal(t, payload, got)
	require.Eventually(t, drained.Load, time.Second, time.Millisecond)
	assert.Greater(t, writes.Load(), int32(0))
}

func TestConnectionSendQueuesBehindPending(t *testing.T) {
	loop, err := NewEventLoop(Options{})
	require.NoError(t, err)
	defer loop.Close()

	fd, peer := newConnPair(t)
	conn, err := NewConnection(fd, nil, loop, Callbacks{}, nil)
	require.NoError(t, err)

	conn.OutBuffer().AppendString("first")
	require.NoError(t, loop.EnableWriting(conn.channel))

	n, err := conn.SendString("second")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is written directly while bytes are queued")
	assert.Equal(t, "firstsecond", string(conn.OutBuffer().Peek()))

	require.NoError(t, conn.handleWrite())
	assert.Equal(t, []byte("firstsecond"), readN(t, peer, 11, time.Second))
	assert.False(t, conn.IsWriting())

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, loop.ChannelCount())
}

func TestConnectionSendBrokenPipe(t *testing.T) {
	loop, err := NewEventLoop(Options{})
	require.NoError(t, err)
	defer loop.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Close(fds[1]))

	conn, err := NewConnection(fds[0], nil, loop, Callbacks{}, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.SendString("x")
	assert.ErrorIs(t, err, ErrConnectionBroken)
}

func TestConnectionDroppedRegistration(t *testing.T) {
	loop, err := NewEventLoop(Options{Backend: BackendSelect})
	require.NoError(t, err)
	defer loop.Close()

	established := false
	conn, err := NewConnection(fdSetSize+1, nil, loop, Callbacks{
		OnEstablished: func(*Connection) error {
			established = true
			return nil
		},
	}, nil)
	assert.ErrorIs(t, err, ErrDispatcherFull)
	assert.Nil(t, conn)
	assert.False(t, established)
}

func TestPeerAddrOf(t *testing.T) {
	addr := peerAddrOf(&unix.SockaddrInet4{Port: 6379, Addr: [4]byte{127, 0, 0, 1}}, log.Logger)
	require.NotNil(t, addr)
	assert.Equal(t, "127.0.0.1:6379", addr.String())

	assert.Nil(t, peerAddrOf(&unix.SockaddrInet6{Port: 6379}, log.Logger))
	assert.Nil(t, peerAddrOf(nil, log.Logger))
}

func TestConnectionSendFromForeignThreadPanics(t *testing.T) {
	_, loop := startLoop(t, Options{})
	fd, _ := newConnPair(t)

	established := atomic.NewBool(false)
	conn, err := NewConnection(fd, nil, loop, Callbacks{
		OnEstablished: func(*Connection) error {
			established.Store(true)
			return nil
		},
	}, nil)
	require.NoError(t, err)
	require.Eventually(t, established.Load, time.Second, time.Millisecond)

	assert.Panics(t, func() { _, _ = conn.SendString("x") })
	assert.Panics(t, func() { _, _ = conn.Send([]byte("x")) })
}
