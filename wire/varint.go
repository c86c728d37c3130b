package wire

import "github.com/pkg/errors"

// maxVarintBytes bounds a single varint at 10 bytes (enough for 70 bits of
// payload, more than a uint64 needs); a longer run means a corrupt stream.
const maxVarintBytes = 10

// ErrCorruptStream is the cause wrapped by every corrupt-trace error: short
// reads mid-packet, checksum violations, reserved header codes, and
// over-length varints all collapse to this one sentinel so callers can
// classify the failure without string matching.
var ErrCorruptStream = errors.New("corrupt stream")

// readVarint reads a little-endian base-128 varint from r, high bit marking
// the final byte, first byte carrying the least-significant 7 bits.
func readVarint(r byteReader) (uint64, error) {
	var v uint64
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(ErrCorruptStream, "short read in varint")
		}
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 != 0 {
			return v, nil
		}
	}
	return 0, errors.Wrap(ErrCorruptStream, "varint exceeds 10 bytes")
}

// appendVarint encodes v and appends it to buf, returning the extended
// slice. Used by tests to build synthetic wire bytes. The high bit is set
// on the final byte, clear on every continuation byte.
func appendVarint(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b|0x80)
		}
		buf = append(buf, b)
	}
}

type byteReader interface {
	ReadByte() (byte, error)
}
