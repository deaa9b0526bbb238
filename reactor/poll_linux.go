//go:build linux
// +build linux

package reactor

import (
	"errors"
	"os"
	"time"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	pollReadEvents  = unix.POLLIN | unix.POLLPRI
	pollWriteEvents = unix.POLLOUT
	pollErrEvents   = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
)

// pollDispatcher watches a fixed array of pollfd records. A free slot has fd -1.
type pollDispatcher struct {
	fds   []unix.PollFd
	ready []readyEvent
}

func newPollDispatcher(capacity int) *pollDispatcher {
	fds := make([]unix.PollFd, capacity)
	for i := range fds {
		fds[i].Fd = -1
	}
	return &pollDispatcher{fds: fds}
}

func toPollEvents(events EventMask) int16 {
	var ev int16
	if events&EventRead != 0 {
		ev |= pollReadEvents
	}
	if events&EventWrite != 0 {
		ev |= pollWriteEvents
	}
	return ev
}

func (d *pollDispatcher) Name() string {
	return "poll"
}

func (d *pollDispatcher) find(fd int) int {
	for i := range d.fds {
		if int(d.fds[i].Fd) == fd {
			return i
		}
	}
	return -1
}

func (d *pollDispatcher) Add(ch *Channel) error {
	// first free slot; a linear scan is fine for the table sizes poll is meant for
	slot := d.find(-1)
	if slot < 0 {
		log.Logger.Warn("too many clients, no poll slot left, dropping registration",
			zap.Int("fd", ch.Fd()), zap.Int("capacity", len(d.fds)))
		return ErrDispatcherFull
	}
	d.fds[slot] = unix.PollFd{Fd: int32(ch.Fd()), Events: toPollEvents(ch.Events())}
	return nil
}

func (d *pollDispatcher) Remove(ch *Channel) error {
	slot := d.find(ch.Fd())
	if slot < 0 {
		log.Logger.Warn("cannot find registered pollfd", zap.Int("fd", ch.Fd()))
		return nil
	}
	d.fds[slot] = unix.PollFd{Fd: -1}
	return nil
}

func (d *pollDispatcher) Update(ch *Channel) error {
	slot := d.find(ch.Fd())
	if slot < 0 {
		log.Logger.Warn("cannot find registered pollfd", zap.Int("fd", ch.Fd()))
		return ErrChannelNotRegistered
	}
	d.fds[slot].Events = toPollEvents(ch.Events())
	return nil
}

// Len returns the number of occupied slots.
func (d *pollDispatcher) Len() int {
	var n int
	for i := range d.fds {
		if d.fds[i].Fd >= 0 {
			n++
		}
	}
	return n
}

func (d *pollDispatcher) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	n, err := unix.Poll(d.fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return os.NewSyscallError("poll", err)
	}
	if n <= 0 {
		return nil
	}

	d.ready = d.ready[:0]
	for i := range d.fds {
		pfd := &d.fds[i]
		if pfd.Fd < 0 || pfd.Revents == 0 {
			continue
		}
		var events EventMask
		if pfd.Revents&(pollReadEvents|pollErrEvents) != 0 {
			events |= EventRead
		}
		if pfd.Revents&pollWriteEvents != 0 {
			events |= EventWrite
		}
		pfd.Revents = 0
		d.ready = append(d.ready, readyEvent{fd: int(pfd.Fd), events: events})
		if n--; n == 0 {
			break
		}
	}

	for _, ev := range d.ready {
		activate(ev.fd, ev.events)
	}
	return nil
}

func (d *pollDispatcher) Close() error {
	for i := range d.fds {
		d.fds[i] = unix.PollFd{Fd: -1}
	}
	return nil
}
