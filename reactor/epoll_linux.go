//go:build linux
// +build linux

package reactor

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	epollReadEvents  = unix.EPOLLIN | unix.EPOLLPRI
	epollWriteEvents = unix.EPOLLOUT
	epollErrEvents   = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

// epollDispatcher is level triggered; the kernel indexes registrations by fd.
type epollDispatcher struct {
	epfd   int
	events []unix.EpollEvent
}

func newEpollDispatcher() (*epollDispatcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollDispatcher{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEpollEvents),
	}, nil
}

func toEpollEvents(events EventMask) uint32 {
	var ev uint32
	if events&EventRead != 0 {
		ev |= epollReadEvents
	}
	if events&EventWrite != 0 {
		ev |= epollWriteEvents
	}
	return ev
}

func (d *epollDispatcher) Name() string {
	return "epoll"
}

func (d *epollDispatcher) Add(ch *Channel) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, ch.Fd(), &unix.EpollEvent{Fd: int32(ch.Fd()), Events: toEpollEvents(ch.Events())}))
}

func (d *epollDispatcher) Remove(ch *Channel) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, ch.Fd(), nil))
}

func (d *epollDispatcher) Update(ch *Channel) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, ch.Fd(), &unix.EpollEvent{Fd: int32(ch.Fd()), Events: toEpollEvents(ch.Events())}))
}

func (d *epollDispatcher) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	n, err := unix.EpollWait(d.epfd, d.events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &d.events[i]
		var events EventMask
		if ev.Events&(epollReadEvents|epollErrEvents) != 0 {
			events |= EventRead
		}
		if ev.Events&epollWriteEvents != 0 {
			events |= EventWrite
		}
		activate(int(ev.Fd), events)
	}
	return nil
}

func (d *epollDispatcher) Close() error {
	return os.NewSyscallError("close", unix.Close(d.epfd))
}
