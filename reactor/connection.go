//go:build linux
// +build linux

package reactor

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/fzft/go-reactor/buffer"
	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ConnCallback is a connection life-cycle hook. Hooks always run on the connection's
// owning loop thread.
type ConnCallback func(c *Connection) error

// Callbacks are the hooks a server hands to every connection. Any of them may be nil.
type Callbacks struct {
	OnEstablished   ConnCallback
	OnMessage       ConnCallback
	OnWriteComplete ConnCallback
	OnClosed        ConnCallback
}

// Connection is one accepted socket pinned to one EventLoop for its whole life.
type Connection struct {
	loop      *EventLoop
	channel   *Channel
	peerAddr  *net.TCPAddr
	in        *buffer.Buffer
	out       *buffer.Buffer
	callbacks Callbacks
	data      any
	closed    bool
	logger    *zap.Logger
}

// NewConnection wraps the non-blocking socket fd. Read interest is registered with loop;
// OnEstablished fires once on the loop thread after the registration was applied. When
// the registration is dropped the socket is closed and OnEstablished never fires.
func NewConnection(fd int, sa unix.Sockaddr, loop *EventLoop, callbacks Callbacks, data any) (*Connection, error) {
	c := &Connection{
		loop:      loop,
		in:        buffer.New(),
		out:       buffer.New(),
		callbacks: callbacks,
		data:      data,
		logger:    log.Logger.With(zap.String("loop", loop.Name()), zap.Int("fd", fd)),
	}
	c.channel = NewChannel(fd, EventRead, c.handleRead, c.handleWrite, c)
	c.peerAddr = peerAddrOf(sa, c.logger)

	if err := loop.AddChannelNotify(c.channel, c.established); err != nil {
		return nil, err
	}
	return c, nil
}

// peerAddrOf converts an accepted IPv4 address. Other families are not handled.
func peerAddrOf(sa unix.Sockaddr, logger *zap.Logger) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]),
			Port: addr.Port,
		}
	case nil:
		return nil
	default:
		logger.Warn("unsupported peer address family")
		return nil
	}
}

func (c *Connection) established(err error) {
	if err != nil {
		c.logger.Warn("connection registration dropped", zap.Error(err))
		c.closed = true
		_ = CloseFd(c.channel.Fd())
		return
	}
	c.logger.Debug("connection established", zap.Stringer("peer", c.peerAddr))
	c.invoke(c.callbacks.OnEstablished, "established")
}

func (c *Connection) invoke(cb ConnCallback, name string) {
	if cb == nil {
		return
	}
	if err := cb(c); err != nil {
		c.logger.Warn("connection callback failed", zap.String("callback", name), zap.Error(err))
	}
}

// Fd returns the socket descriptor.
func (c *Connection) Fd() int {
	return c.channel.Fd()
}

// PeerAddr returns the remote address, nil when unknown.
func (c *Connection) PeerAddr() *net.TCPAddr {
	return c.peerAddr
}

// Loop returns the owning loop.
func (c *Connection) Loop() *EventLoop {
	return c.loop
}

// InBuffer holds received bytes not consumed by OnMessage yet.
func (c *Connection) InBuffer() *buffer.Buffer {
	return c.in
}

// OutBuffer holds bytes waiting for the socket to become writable.
func (c *Connection) OutBuffer() *buffer.Buffer {
	return c.out
}

// Context returns the user data handed to NewConnection.
func (c *Connection) Context() any {
	return c.data
}

// IsWriting reports whether write interest is enabled.
func (c *Connection) IsWriting() bool {
	return c.channel.IsWriting()
}

// IsClosed reports whether the close sequence ran.
func (c *Connection) IsClosed() bool {
	return c.closed
}

func (c *Connection) handleRead() error {
	n, err := c.in.ReadFromFd(c.channel.Fd())
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.logger.Debug("read failed", zap.Error(err))
		}
		return c.handleClose()
	}
	if n == 0 {
		return nil
	}
	c.invoke(c.callbacks.OnMessage, "message")
	return nil
}

func (c *Connection) handleWrite() error {
	c.loop.AssertInOwnerThread()
	if c.closed {
		return nil
	}

	n, err := unix.Write(c.channel.Fd(), c.out.Peek())
	if err != nil {
		if IsTemporaryError(err) {
			return nil
		}
		c.logger.Debug("write failed", zap.Error(err))
		return c.handleClose()
	}
	if n > 0 {
		c.out.Retrieve(n)
		if c.out.ReadableBytes() == 0 {
			if err := c.loop.DisableWriting(c.channel); err != nil {
				return err
			}
		}
		c.invoke(c.callbacks.OnWriteComplete, "write complete")
	}
	return nil
}

// Send writes p to the peer. When nothing is queued and write interest is off the bytes
// are written directly; whatever the socket did not take is queued and write interest is
// enabled. It returns the number of bytes written directly. It must be called on the
// owning loop thread.
func (c *Connection) Send(p []byte) (int, error) {
	c.loop.AssertInOwnerThread()
	if c.closed {
		return 0, ErrConnectionClosed
	}

	var written int
	if !c.channel.IsWriting() && c.out.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.Fd(), p)
		switch {
		case err == nil:
			written = n
		case IsTemporaryError(err):
		default:
			c.logger.Debug("send failed", zap.Error(err))
			if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
				return 0, ErrConnectionBroken
			}
			return 0, os.NewSyscallError("write", err)
		}
	}

	if written < len(p) {
		c.out.Append(p[written:])
		if err := c.loop.EnableWriting(c.channel); err != nil {
			return written, err
		}
	}
	return written, nil
}

// SendString sends s.
func (c *Connection) SendString(s string) (int, error) {
	return c.Send([]byte(s))
}

// SendBuffer sends the readable bytes of b and consumes them, whether they went out
// directly or were queued.
func (c *Connection) SendBuffer(b *buffer.Buffer) (int, error) {
	n, err := c.Send(b.Peek())
	if err != nil {
		b.Retrieve(n)
		return n, err
	}
	b.RetrieveAll()
	return n, nil
}

// Shutdown half-closes the write side of the socket.
func (c *Connection) Shutdown() error {
	if err := unix.Shutdown(c.channel.Fd(), unix.SHUT_WR); err != nil {
		c.logger.Warn("failed to shutdown socket", zap.Error(err))
		return os.NewSyscallError("shutdown", err)
	}
	return nil
}

// Close runs the close sequence. It must be called on the owning loop thread.
func (c *Connection) Close() error {
	return c.handleClose()
}

// handleClose unregisters the channel, fires OnClosed and closes the socket.
func (c *Connection) handleClose() error {
	c.loop.AssertInOwnerThread()
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.loop.RemoveChannel(c.channel)
	c.invoke(c.callbacks.OnClosed, "closed")
	if cerr := unix.Close(c.channel.Fd()); cerr != nil && err == nil {
		err = os.NewSyscallError("close", cerr)
	}
	c.in, c.out = buffer.NewSize(0), buffer.NewSize(0)
	c.logger.Debug("connection closed")
	return err
}
