package buffer

import (
	"bytes"
	"io"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
)

const (
	// CheapPrepend is the reserved space in front of the readable region. An empty
	// buffer has both cursors at this offset.
	CheapPrepend = 8
	// InitialSize is the writable capacity of a fresh buffer.
	InitialSize = 1024
)

var crlf = []byte("\r\n")

// Buffer is a self-growing byte container. Not safe for concurrent use; every buffer
// belongs to exactly one connection and is touched only by that connection's loop.
//
//	| prependable |  readable  |  writable  |
//	0          readIdx     writeIdx     len(data)
type Buffer struct {
	data     []byte
	readIdx  int
	writeIdx int
}

// New returns a buffer with InitialSize writable bytes.
func New() *Buffer {
	return NewSize(InitialSize)
}

// NewSize returns a buffer with size writable bytes.
func NewSize(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{
		data:     make([]byte, CheapPrepend+size),
		readIdx:  CheapPrepend,
		writeIdx: CheapPrepend,
	}
}

// ReadableBytes returns the number of bytes that can be read.
func (b *Buffer) ReadableBytes() int {
	return b.writeIdx - b.readIdx
}

// WritableBytes returns the free space behind the readable region.
func (b *Buffer) WritableBytes() int {
	return len(b.data) - b.writeIdx
}

// PrependableBytes returns the space in front of the readable region.
func (b *Buffer) PrependableBytes() int {
	return b.readIdx
}

// Capacity returns the size of the underlying storage.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Peek returns the readable region without consuming it. The slice is only valid until
// the next mutation of the buffer.
func (b *Buffer) Peek() []byte {
	return b.data[b.readIdx:b.writeIdx]
}

// Retrieve consumes n readable bytes.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	if n > 0 {
		b.readIdx += n
	}
}

// RetrieveAll drops the readable region and moves both cursors back to the origin.
func (b *Buffer) RetrieveAll() {
	b.readIdx = CheapPrepend
	b.writeIdx = CheapPrepend
}

// Next consumes and returns up to n readable bytes. The returned slice aliases the
// buffer storage and is valid until the next append.
func (b *Buffer) Next(n int) []byte {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	p := b.data[b.readIdx : b.readIdx+n]
	b.Retrieve(n)
	return p
}

// ReadByte consumes one byte. Both cursors are reset to the origin once the buffer is
// drained.
func (b *Buffer) ReadByte() (byte, error) {
	if b.readIdx == b.writeIdx {
		return 0, io.EOF
	}
	c := b.data[b.readIdx]
	b.readIdx++
	if b.readIdx == b.writeIdx {
		b.readIdx = CheapPrepend
		b.writeIdx = CheapPrepend
	}
	return c, nil
}

// Append copies p behind the readable region and returns the number of bytes appended.
func (b *Buffer) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	b.ensureWritable(len(p))
	n := copy(b.data[b.writeIdx:], p)
	b.writeIdx += n
	return n
}

// AppendString appends the bytes of s.
func (b *Buffer) AppendString(s string) int {
	if len(s) == 0 {
		return 0
	}
	b.ensureWritable(len(s))
	n := copy(b.data[b.writeIdx:], s)
	b.writeIdx += n
	return n
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) int {
	b.ensureWritable(1)
	b.data[b.writeIdx] = c
	b.writeIdx++
	return 1
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.Append(p), nil
}

// FindCRLF returns the offset of the first "\r\n" inside the readable region, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// ensureWritable makes room for need more bytes. Readable bytes are slid to the origin
// when the reclaimable front space is enough, otherwise the storage doubles until it fits.
func (b *Buffer) ensureWritable(need int) {
	if b.WritableBytes() >= need {
		return
	}

	readable := b.ReadableBytes()
	if b.WritableBytes()+b.PrependableBytes()-CheapPrepend >= need {
		copy(b.data[CheapPrepend:], b.data[b.readIdx:b.writeIdx])
		b.readIdx = CheapPrepend
		b.writeIdx = CheapPrepend + readable
		return
	}

	size := len(b.data)
	if size == 0 {
		size = CheapPrepend + 1
	}
	for size-b.writeIdx < need {
		size <<= 1
	}
	log.Logger.Debug("buffer growing", zap.Int("from", len(b.data)), zap.Int("to", size))

	data := make([]byte, size)
	copy(data, b.data[:b.writeIdx])
	b.data = data
}
