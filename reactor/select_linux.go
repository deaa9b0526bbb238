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

// fdSetSize is FD_SETSIZE of the kernel fd_set.
const fdSetSize = 1024

// selectDispatcher keeps the read and write fd_sets itself. The scan is bounded by the
// highest registered fd, so it only suits small descriptor ranges.
type selectDispatcher struct {
	maxFd int
	rset  unix.FdSet
	wset  unix.FdSet
	ready []readyEvent
}

func newSelectDispatcher() *selectDispatcher {
	return &selectDispatcher{maxFd: -1}
}

func (d *selectDispatcher) Name() string {
	return "select"
}

func (d *selectDispatcher) Add(ch *Channel) error {
	fd := ch.Fd()
	if fd < 0 || fd >= fdSetSize {
		log.Logger.Warn("fd exceeds FD_SETSIZE, dropping registration",
			zap.String("backend", d.Name()), zap.Int("fd", fd))
		return ErrDispatcherFull
	}
	if ch.IsReading() {
		d.rset.Set(fd)
	}
	if ch.IsWriting() {
		d.wset.Set(fd)
	}
	if fd > d.maxFd {
		d.maxFd = fd
	}
	return nil
}

func (d *selectDispatcher) Remove(ch *Channel) error {
	fd := ch.Fd()
	if fd < 0 || fd >= fdSetSize {
		return nil
	}
	d.rset.Clear(fd)
	d.wset.Clear(fd)
	if fd == d.maxFd {
		d.updateMaxFd()
	}
	return nil
}

func (d *selectDispatcher) Update(ch *Channel) error {
	fd := ch.Fd()
	if fd < 0 || fd >= fdSetSize {
		return ErrDispatcherFull
	}
	if ch.IsReading() {
		d.rset.Set(fd)
	} else {
		d.rset.Clear(fd)
	}
	if ch.IsWriting() {
		d.wset.Set(fd)
	} else {
		d.wset.Clear(fd)
	}

	watched := d.rset.IsSet(fd) || d.wset.IsSet(fd)
	switch {
	case watched && fd > d.maxFd:
		d.maxFd = fd
	case !watched && fd == d.maxFd:
		d.updateMaxFd()
	}
	return nil
}

// updateMaxFd walks down from the cached maximum to the next watched descriptor.
func (d *selectDispatcher) updateMaxFd() {
	for fd := d.maxFd; fd >= 0; fd-- {
		if d.rset.IsSet(fd) || d.wset.IsSet(fd) {
			d.maxFd = fd
			return
		}
	}
	d.maxFd = -1
}

func (d *selectDispatcher) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	// select overwrites the sets it is given
	rset, wset := d.rset, d.wset
	tv := unix.NsecToTimeval(timeout.Nanoseconds())

	n, err := unix.Select(d.maxFd+1, &rset, &wset, nil, &tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return os.NewSyscallError("select", err)
	}
	if n <= 0 {
		return nil
	}

	d.ready = d.ready[:0]
	for fd := 0; fd <= d.maxFd && n > 0; fd++ {
		var events EventMask
		if rset.IsSet(fd) {
			events |= EventRead
			n--
		}
		if wset.IsSet(fd) {
			events |= EventWrite
			n--
		}
		if events != EventNone {
			d.ready = append(d.ready, readyEvent{fd: fd, events: events})
		}
	}

	for _, ev := range d.ready {
		activate(ev.fd, ev.events)
	}
	return nil
}

func (d *selectDispatcher) Close() error {
	d.rset.Zero()
	d.wset.Zero()
	d.maxFd = -1
	return nil
}
