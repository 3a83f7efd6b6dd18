package fields

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

func TestClassify(t *testing.T) {
	f, err := Classify(nil, 4)
	require.NoError(t, err)
	assert.Equal(t, None, f.Kind)
	assert.False(t, f.Active())

	one, err := Bitmap(4, 3)
	require.NoError(t, err)
	f, err = Classify(one, 4)
	require.NoError(t, err)
	assert.Equal(t, Single, f.Kind)
	assert.Equal(t, uint32(3), f.Field)

	many, err := Bitmap(4, 1, 4)
	require.NoError(t, err)
	f, err = Classify(many, 4)
	require.NoError(t, err)
	assert.Equal(t, Set, f.Kind)
	assert.True(t, f.Match(4))
	assert.False(t, f.Match(2))
}

func TestClassifyRejects(t *testing.T) {
	empty := bitset.New(5)
	_, err := Classify(empty, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidFieldBitmap)

	short := bitset.New(3).Set(1)
	_, err = Classify(short, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidFieldBitmap)

	_, err = Bitmap(4, 5)
	assert.ErrorIs(t, err, errors.ErrInvalidFieldBitmap)
}

func TestSingleAndSetAgree(t *testing.T) {
	bits, err := Bitmap(6, 2)
	require.NoError(t, err)

	single, err := Classify(bits, 6)
	require.NoError(t, err)
	set := Filter{Kind: Set, Bits: bits}

	for id := uint32(0); id <= 10; id++ {
		assert.Equal(t, set.Match(id), single.Match(id), "field %d", id)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "single", Single.String())
	assert.Equal(t, "set", Set.String())
}
