package varint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

func TestKnownEncodings(t *testing.T) {
	tests := []struct {
		value uint64
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tt := range tests {
		enc := Append(nil, tt.value)
		assert.Equal(t, tt.bytes, enc, "encoding %d", tt.value)
		assert.Equal(t, len(tt.bytes), Len(tt.value))

		v, next, err := Read(enc, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, len(enc), next)
	}
}

func TestRoundTripSequence(t *testing.T) {
	values := []uint64{0, 5, 1 << 7, 1 << 14, 1 << 21, 1 << 35, math.MaxUint32, math.MaxUint64}
	var buf []byte
	for _, v := range values {
		buf = Append(buf, v)
	}

	off := 0
	for _, want := range values {
		got, next, err := Read(buf, off)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		off = next
	}
	assert.Equal(t, len(buf), off)
}

func TestPut(t *testing.T) {
	buf := make([]byte, MaxLen)
	n := Put(buf, 300)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xAC, 0x02}, buf[:n])
}

func TestReadTruncated(t *testing.T) {
	_, _, err := Read([]byte{0x80, 0x80}, 0)
	assert.ErrorIs(t, err, errors.ErrTruncatedData)

	_, _, err = Read([]byte{0x01}, 1)
	assert.ErrorIs(t, err, errors.ErrTruncatedData)

	_, _, err = Read(nil, 0)
	assert.ErrorIs(t, err, errors.ErrTruncatedData)
}

func TestReadOverflow(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	_, _, err := Read(buf, 0)
	assert.ErrorIs(t, err, errors.ErrVarintOverflow)
}

func TestRead32(t *testing.T) {
	buf := Append(nil, math.MaxUint32)
	v, _, err := Read32(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	buf = Append(nil, math.MaxUint32+1)
	_, _, err = Read32(buf, 0)
	assert.ErrorIs(t, err, errors.ErrVarintOverflow)
}

func TestSkip(t *testing.T) {
	buf := Append(Append(nil, 300), 7)

	next, err := Skip(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	v, _, err := Read(buf, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	_, err = Skip([]byte{0x80}, 0)
	assert.ErrorIs(t, err, errors.ErrTruncatedData)
}
