//go:build linux
// +build linux

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsTemporaryError reports whether err means "no progress this round", e.g. EAGAIN,
// EWOULDBLOCK or an interrupted call.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func isFDValid(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseFd closes fd if it is still open.
func CloseFd(fd int) error {
	if isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return err
		}
	}
	return nil
}
