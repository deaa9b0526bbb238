//go:build linux
// +build linux

package buffer

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const extraBufferSize = 64 * 1024

var extraPool = sync.Pool{
	New: func() any {
		return new([extraBufferSize]byte)
	},
}

// ReadFromFd performs a single scatter read into the writable tail and a 64KiB overflow
// segment, then appends whatever landed in the overflow.
//
// It returns (0, io.EOF) when the peer closed, (0, nil) when the descriptor had nothing
// to read yet (EAGAIN, EWOULDBLOCK, EINTR) and (0, err) on any other failure.
func (b *Buffer) ReadFromFd(fd int) (int, error) {
	extra := extraPool.Get().(*[extraBufferSize]byte)
	defer extraPool.Put(extra)

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.data[b.writeIdx:], extra[:]})
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, os.NewSyscallError("readv", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	if n <= writable {
		b.writeIdx += n
	} else {
		b.writeIdx = len(b.data)
		b.Append(extra[:n-writable])
	}
	return n, nil
}
