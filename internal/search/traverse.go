package search

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
	"github.com/fschiettecatte/mps-sub006/internal/search/fields"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// matcher decides per entry whether its field passes the filter. The three
// implementations are value types so each gets its own instantiation of walk.
type matcher interface {
	match(fieldID uint32) bool
}

type anyField struct{}

func (anyField) match(uint32) bool { return true }

type oneField uint32

func (f oneField) match(fieldID uint32) bool { return fieldID == uint32(f) }

type fieldSet struct{ bits *bitset.BitSet }

func (f fieldSet) match(fieldID uint32) bool { return f.bits.Test(uint(fieldID)) }

// sink receives every accepted entry.
type sink interface {
	accept(documentID, position uint32)
	// positions reports whether accept uses the position argument.
	positions() bool
}

type postingsSink struct {
	postings  []Posting
	weight    float32
	lastDoc   uint32
	documents uint32
}

func (s *postingsSink) accept(documentID, position uint32) {
	if documentID != s.lastDoc {
		s.documents++
		s.lastDoc = documentID
	}
	s.postings = append(s.postings, Posting{DocumentID: documentID, TermPosition: position, Weight: s.weight})
}

func (s *postingsSink) positions() bool { return true }

// weightSink adds into a vector. With journal set it remembers the value
// each document had before its first write so a failed call can be undone.
type weightSink struct {
	weights []float32
	weight  float32
	matched int
	lastDoc uint32

	journal bool
	undo    []weightUndo
}

type weightUndo struct {
	documentID uint32
	previous   float32
}

func (s *weightSink) accept(documentID, _ uint32) {
	if s.journal && documentID != s.lastDoc {
		s.undo = append(s.undo, weightUndo{documentID: documentID, previous: s.weights[documentID]})
		s.lastDoc = documentID
	}
	s.weights[documentID] += s.weight
	s.matched++
}

func (s *weightSink) positions() bool { return false }

func (s *weightSink) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.weights[s.undo[i].documentID] = s.undo[i].previous
	}
}

// bitmapSink sets document bits. With journal set it remembers which bits it
// turned on so a failed call can be undone.
type bitmapSink struct {
	bits    *bitset.BitSet
	matched int

	journal bool
	undo    []uint32
}

func (s *bitmapSink) accept(documentID, _ uint32) {
	if s.journal && !s.bits.Test(uint(documentID)) {
		s.undo = append(s.undo, documentID)
	}
	s.bits.Set(uint(documentID))
	s.matched++
}

func (s *bitmapSink) positions() bool { return false }

func (s *bitmapSink) rollback() {
	for _, documentID := range s.undo {
		s.bits.Clear(uint(documentID))
	}
}

// traverse picks the loop for the filter kind once and runs it. It returns
// the number of entries decoded.
func traverse[S sink](r *postings.Reader, filter fields.Filter, s S, rng Range, documentCount uint32) (int, error) {
	switch filter.Kind {
	case fields.Single:
		return walk(r, oneField(filter.Field), s, rng, documentCount)
	case fields.Set:
		return walk(r, fieldSet{bits: filter.Bits}, s, rng, documentCount)
	default:
		return walk(r, anyField{}, s, rng, documentCount)
	}
}

// walk decodes the block applying the delta rules, rejects document IDs the
// index cannot hold, skips entries outside rng or failing m, and stops at
// the first document past rng.End.
func walk[M matcher, S sink](r *postings.Reader, m M, s S, rng Range, documentCount uint32) (int, error) {
	withPositions := s.positions()
	decoded := 0
	for r.HasNext() {
		var e postings.Entry
		var err error
		if withPositions {
			e, err = r.Next()
		} else {
			e, err = r.NextSkipPosition()
		}
		if err != nil {
			return decoded, err
		}
		decoded++

		documentID := r.DocumentID()
		if documentID > documentCount {
			return decoded, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
				"document %d beyond index document count %d", documentID, documentCount)
		}
		if documentID < rng.Start {
			continue
		}
		if rng.End != 0 && documentID > rng.End {
			break
		}
		if !m.match(e.FieldID) {
			continue
		}
		s.accept(documentID, r.Position())
	}
	return decoded, nil
}

func blockError(term string, blockID uint64, err error) error {
	return fmt.Errorf("decoding block %d of term %q: %w", blockID, term, err)
}
