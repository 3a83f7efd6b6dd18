package search

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Ownership records who allocated an accumulator buffer.
type Ownership uint8

const (
	// Owned buffers were allocated by an evaluator for this result.
	Owned Ownership = iota
	// Borrowed buffers were supplied by the caller for reuse across calls.
	Borrowed
	// Mapped buffers are read-only views, such as a vector loaded from a
	// memory-mapped file. Evaluators refuse to write into them.
	Mapped
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	case Mapped:
		return "mapped"
	default:
		return "unknown"
	}
}

// WeightVector accumulates term weights per document. Index 0 is unused so
// that a document ID indexes the vector directly. It is not safe for
// concurrent writes.
type WeightVector struct {
	weights   []float32
	ownership Ownership
}

// BorrowWeights wraps a caller-owned slice. Evaluators add into it in place.
func BorrowWeights(weights []float32) *WeightVector {
	return &WeightVector{weights: weights, ownership: Borrowed}
}

// MappedWeights wraps a read-only slice. It can be read and merged from but
// evaluators reject it as a target.
func MappedWeights(weights []float32) *WeightVector {
	return &WeightVector{weights: weights, ownership: Mapped}
}

func (v *WeightVector) Ownership() Ownership { return v.ownership }

// Weights exposes the underlying slice, including the unused index 0.
func (v *WeightVector) Weights() []float32 { return v.weights }

func (v *WeightVector) Len() int { return len(v.weights) }

// At returns the weight of documentID, or 0 when it is out of range.
func (v *WeightVector) At(documentID uint32) float32 {
	if int(documentID) >= len(v.weights) {
		return 0
	}
	return v.weights[documentID]
}

// Add adds other into v element-wise. other must not be longer than v.
func (v *WeightVector) Add(other *WeightVector) error {
	if err := v.writable(other.Len()); err != nil {
		return err
	}
	for i, w := range other.weights {
		v.weights[i] += w
	}
	return nil
}

// Reset zeroes every weight.
func (v *WeightVector) Reset() error {
	if err := v.writable(0); err != nil {
		return err
	}
	clear(v.weights)
	return nil
}

func (v *WeightVector) writable(need int) error {
	if v.ownership == Mapped {
		return errors.Invalid(errors.ErrBufferReadOnly, "weight vector is mapped read-only")
	}
	if len(v.weights) < need {
		return errors.Invalid(errors.ErrBufferTooSmall, "weight vector has %d slots, need %d", len(v.weights), need)
	}
	return nil
}

// Bitmap marks the documents a term occurs in. Bit 0 is unused. It is not
// safe for concurrent writes.
type Bitmap struct {
	bits      *bitset.BitSet
	ownership Ownership
}

// BorrowBitmap wraps a caller-owned bitset. Its length must already cover
// every document ID; evaluators never grow it.
func BorrowBitmap(bits *bitset.BitSet) *Bitmap {
	return &Bitmap{bits: bits, ownership: Borrowed}
}

// MappedBitmap wraps read-only words, for example a bitmap stored in a
// memory-mapped file, as a bitmap of length bits.
func MappedBitmap(words []uint64, length uint) *Bitmap {
	bits := bitset.FromWithLength(length, words)
	return &Bitmap{bits: bits, ownership: Mapped}
}

func (b *Bitmap) Ownership() Ownership { return b.ownership }

func (b *Bitmap) Bits() *bitset.BitSet { return b.bits }

func (b *Bitmap) Len() uint { return b.bits.Len() }

func (b *Bitmap) Test(documentID uint32) bool { return b.bits.Test(uint(documentID)) }

func (b *Bitmap) Count() uint { return b.bits.Count() }

// Union sets in b every bit set in other. other must not be longer than b.
func (b *Bitmap) Union(other *Bitmap) error {
	if err := b.writable(other.Len()); err != nil {
		return err
	}
	b.bits.InPlaceUnion(other.bits)
	return nil
}

func (b *Bitmap) writable(need uint) error {
	if b.ownership == Mapped {
		return errors.Invalid(errors.ErrBufferReadOnly, "bitmap is mapped read-only")
	}
	if b.bits.Len() < need {
		return errors.Invalid(errors.ErrBufferTooSmall, "bitmap has %d bits, need %d", b.bits.Len(), need)
	}
	return nil
}

// ToRoaring converts the set document IDs into a compressed roaring bitmap
// for boolean combination with other terms.
func (b *Bitmap) ToRoaring() *roaring.Bitmap {
	rb := roaring.New()
	for i, ok := b.bits.NextSet(0); ok; i, ok = b.bits.NextSet(i + 1) {
		rb.Add(uint32(i))
	}
	return rb
}
