// Package fields classifies a field-ID bitmap into the cheapest filter the
// evaluators can apply per postings entry.
//
// A field bitmap has one bit per field ID, bit 0 being the unfielded field,
// so its length is the index's field count plus one.
package fields

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Kind is the traversal mode selected for a call.
type Kind uint8

const (
	// None accepts every entry.
	None Kind = iota
	// Single accepts entries of exactly one field.
	Single
	// Set tests every entry against a bitmap.
	Set
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Single:
		return "single"
	case Set:
		return "set"
	default:
		return "unknown"
	}
}

// Filter is the classified form of a field bitmap.
type Filter struct {
	Kind  Kind
	Field uint32
	Bits  *bitset.BitSet
}

func (f Filter) Active() bool { return f.Kind != None }

// Match reports whether an entry of fieldID passes the filter. The
// evaluators do not call it per entry; they specialize on Kind once.
func (f Filter) Match(fieldID uint32) bool {
	switch f.Kind {
	case Single:
		return fieldID == f.Field
	case Set:
		return f.Bits.Test(uint(fieldID))
	default:
		return true
	}
}

// Classify returns None for a nil bitmap. A non-nil bitmap must be
// fieldCount+1 bits long with at least one bit set.
func Classify(bits *bitset.BitSet, fieldCount uint32) (Filter, error) {
	if bits == nil {
		return Filter{Kind: None}, nil
	}
	if bits.Len() != uint(fieldCount)+1 {
		return Filter{}, errors.Invalid(errors.ErrInvalidFieldBitmap,
			"bitmap length %d does not match %d fields", bits.Len(), fieldCount)
	}
	switch bits.Count() {
	case 0:
		return Filter{}, errors.Invalid(errors.ErrInvalidFieldBitmap, "no field selected")
	case 1:
		id, _ := bits.NextSet(0)
		return Filter{Kind: Single, Field: uint32(id)}, nil
	default:
		return Filter{Kind: Set, Bits: bits}, nil
	}
}

// Bitmap builds a field bitmap for an index with fieldCount fields.
func Bitmap(fieldCount uint32, ids ...uint32) (*bitset.BitSet, error) {
	bits := bitset.New(uint(fieldCount) + 1)
	for _, id := range ids {
		if id > fieldCount {
			return nil, errors.Invalid(errors.ErrInvalidFieldBitmap,
				"field %d out of range (index has %d fields)", id, fieldCount)
		}
		bits.Set(uint(id))
	}
	return bits, nil
}
