//go:build linux
// +build linux

package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadFromFdNoData(t *testing.T) {
	r, _ := socketPair(t)
	b := New()

	n, err := b.ReadFromFd(r)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestReadFromFdOverflowsIntoExtra(t *testing.T) {
	r, w := socketPair(t)
	require.NoError(t, unix.SetsockoptInt(w, unix.SOL_SOCKET, unix.SO_SNDBUF, 1<<20))
	b := NewSize(16)

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	n, err := unix.Write(w, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	var total int
	for total < len(payload) {
		n, err := b.ReadFromFd(r)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		total += n
	}

	assert.Equal(t, payload, b.Peek())
	assert.Greater(t, b.Capacity(), CheapPrepend+16)
}

func TestReadFromFdEOF(t *testing.T) {
	r, w := socketPair(t)
	require.NoError(t, unix.Shutdown(w, unix.SHUT_WR))

	b := New()
	n, err := b.ReadFromFd(r)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
