// Package varint encodes and decodes the unsigned variable-length integers
// used throughout postings blocks: seven data bits per byte, the high bit set
// on every byte but the last, least-significant group first.
//
// Every read is bounds-checked against the buffer and advances an explicit
// offset; a sequence that runs off the end of the buffer is ErrTruncatedData.
package varint

import (
	"encoding/binary"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// MaxLen is the longest encoding of a uint64.
const MaxLen = binary.MaxVarintLen64

// Append appends the encoding of v to dst.
func Append(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// Put writes the encoding of v into buf and returns the number of bytes
// written. buf must hold at least Len(v) bytes.
func Put(buf []byte, v uint64) int {
	return binary.PutUvarint(buf, v)
}

// Len returns the encoded length of v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Read decodes the value starting at buf[off] and returns it together with
// the offset of the first byte after it.
func Read(buf []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, errors.ErrTruncatedData
	}
	// Single byte values dominate postings blocks.
	if b := buf[off]; b < 0x80 {
		return uint64(b), off + 1, nil
	}
	v, n := binary.Uvarint(buf[off:])
	switch {
	case n == 0:
		return 0, off, errors.ErrTruncatedData
	case n < 0:
		return 0, off, errors.ErrVarintOverflow
	}
	return v, off + n, nil
}

// Read32 is Read for values that must fit in 32 bits, such as document IDs,
// positions and field IDs.
func Read32(buf []byte, off int) (uint32, int, error) {
	v, next, err := Read(buf, off)
	if err != nil {
		return 0, off, err
	}
	if v > 0xFFFFFFFF {
		return 0, off, errors.ErrVarintOverflow
	}
	return uint32(v), next, nil
}

// Skip advances past the value starting at buf[off] without materializing it.
func Skip(buf []byte, off int) (int, error) {
	if off < 0 {
		return off, errors.ErrTruncatedData
	}
	for i := off; i < len(buf); i++ {
		if i-off >= MaxLen {
			return off, errors.ErrVarintOverflow
		}
		if buf[i] < 0x80 {
			return i + 1, nil
		}
	}
	return off, errors.ErrTruncatedData
}
