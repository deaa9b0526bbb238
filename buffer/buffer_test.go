package buffer

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCursors(t *testing.T, b *Buffer) {
	t.Helper()
	assert.True(t, 0 <= b.readIdx, "readIdx %d", b.readIdx)
	assert.True(t, b.readIdx <= b.writeIdx, "readIdx %d > writeIdx %d", b.readIdx, b.writeIdx)
	assert.True(t, b.writeIdx <= b.Capacity(), "writeIdx %d > capacity %d", b.writeIdx, b.Capacity())
}

func TestNewBuffer(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, InitialSize, b.WritableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assert.Equal(t, -1, b.FindCRLF())
}

func TestAppendAndRetrieve(t *testing.T) {
	b := New()
	b.AppendString("hello")
	b.Append([]byte(" world"))
	b.AppendByte('!')

	assert.Equal(t, 12, b.ReadableBytes())
	assert.Equal(t, "hello world!", string(b.Peek()))

	assert.Equal(t, "hello", string(b.Next(5)))
	assert.Equal(t, CheapPrepend+5, b.PrependableBytes())

	b.Retrieve(b.ReadableBytes())
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestAppendGrowsByDoubling(t *testing.T) {
	b := NewSize(16)
	before := b.Capacity()

	b.Append(bytes.Repeat([]byte{'x'}, 100))

	assert.Equal(t, 100, b.ReadableBytes())
	assert.GreaterOrEqual(t, b.WritableBytes(), 0)
	// doubling only ever produces multiples of the starting capacity
	assert.Equal(t, 0, b.Capacity()%before)
	assertCursors(t, b)
}

func TestAppendCompactsInPlace(t *testing.T) {
	b := NewSize(32)
	b.Append(bytes.Repeat([]byte{'a'}, 24))
	b.Retrieve(20)
	capacity := b.Capacity()

	// 8 writable + 20 reclaimable prependable >= 16
	b.Append(bytes.Repeat([]byte{'b'}, 16))

	assert.Equal(t, capacity, b.Capacity(), "compaction must not reallocate")
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assert.Equal(t, "aaaa"+string(bytes.Repeat([]byte{'b'}, 16)), string(b.Peek()))
}

func TestReadByteResetsCursors(t *testing.T) {
	b := NewSize(8)
	b.AppendString("abcdefghijklmnop")
	capacity := b.Capacity()

	var out []byte
	for b.ReadableBytes() > 0 {
		c, err := b.ReadByte()
		require.NoError(t, err)
		out = append(out, c)
	}

	assert.Equal(t, "abcdefghijklmnop", string(out))
	assert.Equal(t, CheapPrepend, b.readIdx)
	assert.Equal(t, CheapPrepend, b.writeIdx)

	_, err := b.ReadByte()
	assert.Equal(t, io.EOF, err)

	b.AppendString("abcdefghijklmnop")
	assert.Equal(t, capacity, b.Capacity(), "prior growth must be reused")
}

func TestFindCRLF(t *testing.T) {
	b := New()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	assert.Equal(t, 14, b.FindCRLF())

	b.Retrieve(16)
	assert.Equal(t, 7, b.FindCRLF())
}

func TestRandomAppendReadKeepsCursorsOrdered(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	b := NewSize(4)
	var expected []byte
	var got []byte

	for i := 0; i < 2000; i++ {
		switch r.Intn(3) {
		case 0:
			chunk := make([]byte, r.Intn(300))
			r.Read(chunk)
			b.Append(chunk)
			expected = append(expected, chunk...)
		case 1:
			got = append(got, b.Next(r.Intn(200))...)
		case 2:
			if c, err := b.ReadByte(); err == nil {
				got = append(got, c)
			}
		}
		assertCursors(t, b)
	}
	got = append(got, b.Next(b.ReadableBytes())...)

	assert.Equal(t, expected, got)
}
