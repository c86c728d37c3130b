package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, 1<<63 - 1, 1 << 63}
	for _, v := range cases {
		buf := appendVarint(nil, v)
		got, err := readVarint(bufio.NewReader(bytes.NewReader(buf)))
		assert.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVarintMaxUint64(t *testing.T) {
	buf := appendVarint(nil, ^uint64(0))
	assert.LessOrEqual(t, len(buf), maxVarintBytes)
	got, err := readVarint(bufio.NewReader(bytes.NewReader(buf)))
	assert.NoError(t, err)
	assert.Equal(t, ^uint64(0), got)
}

func TestVarintTruncatedIsCorrupt(t *testing.T) {
	buf := appendVarint(nil, uint64(1)<<63)
	// Drop the final (high-bit-set) byte so the reader runs past EOF.
	truncated := buf[:len(buf)-1]
	_, err := readVarint(bufio.NewReader(bytes.NewReader(truncated)))
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestVarintExceedsTenBytesIsCorrupt(t *testing.T) {
	// 11 continuation bytes with the high bit clear, never terminating.
	buf := bytes.Repeat([]byte{0x7f}, 11)
	_, err := readVarint(bufio.NewReader(bytes.NewReader(buf)))
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptStream)
}
