//go:build linux
// +build linux

package acceptor

import (
	"errors"
	"fmt"
	"os"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// SocketType selects the transport of the listening socket.
type SocketType uint8

const (
	TCP SocketType = iota
	UDP
)

func (t SocketType) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("socket(%d)", uint8(t))
}

// ListenBacklog is the backlog of TCP listening sockets.
const ListenBacklog = 1024

var ErrUnknownSocketType = errors.New("acceptor: unknown socket type")

// Acceptor owns a non-blocking listening socket bound to every IPv4 interface.
type Acceptor struct {
	fd       int
	typ      SocketType
	port     int
	accepted atomic.Int64
}

// New creates, binds and (for TCP) starts listening on port. Port 0 picks an ephemeral
// port, see Port. On failure the socket is closed again.
func New(typ SocketType, port int) (a *Acceptor, err error) {
	var sotype, proto int
	switch typ {
	case TCP:
		sotype, proto = unix.SOCK_STREAM, unix.IPPROTO_TCP
	case UDP:
		sotype, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSocketType, typ)
	}

	fd, err := unix.Socket(unix.AF_INET, sotype|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
			log.Logger.Error("failed to create listening socket",
				zap.Stringer("type", typ), zap.Int("port", port), zap.Error(err))
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return nil, os.NewSyscallError("bind", err)
	}
	if typ == TCP {
		if err = unix.Listen(fd, ListenBacklog); err != nil {
			return nil, os.NewSyscallError("listen", err)
		}
	}

	a = &Acceptor{fd: fd, typ: typ, port: port}
	if port == 0 {
		if a.port, err = a.localPort(); err != nil {
			return nil, err
		}
	}
	log.Logger.Info("listening", zap.Stringer("type", typ), zap.Int("port", a.port), zap.Int("fd", fd))
	return a, nil
}

func (a *Acceptor) localPort() (int, error) {
	sa, err := unix.Getsockname(a.fd)
	if err != nil {
		return 0, os.NewSyscallError("getsockname", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, fmt.Errorf("acceptor: unexpected local address %T", sa)
}

// Accept returns the next pending connection as a non-blocking socket. When no
// connection is pending the error satisfies errors.Is(err, unix.EAGAIN).
func (a *Acceptor) Accept() (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	a.accepted.Inc()
	return fd, sa, nil
}

// Fd returns the listening descriptor.
func (a *Acceptor) Fd() int {
	return a.fd
}

// Type returns the socket type.
func (a *Acceptor) Type() SocketType {
	return a.typ
}

// Port returns the bound port.
func (a *Acceptor) Port() int {
	return a.port
}

// Accepted returns the number of accepted connections.
func (a *Acceptor) Accepted() int64 {
	return a.accepted.Load()
}

// Close closes the listening socket.
func (a *Acceptor) Close() error {
	if a.fd < 0 {
		return nil
	}
	fd := a.fd
	a.fd = -1
	return os.NewSyscallError("close", unix.Close(fd))
}
