// Package search evaluates a single query term against an index. Three
// evaluators share one traversal of the term's postings block: a scored
// postings list, an additive per-document weight vector, and a per-document
// presence bitmap.
package search

import (
	"math"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Index is the read-only view of one index the evaluators need.
type Index struct {
	Name          string
	Terms         dictionary.Resolver
	Blocks        blockstore.Store
	DocumentCount uint32
	FieldCount    uint32
}

func (idx *Index) validate() error {
	switch {
	case idx == nil:
		return errors.Invalid(errors.ErrInvalidIndex, "index is nil")
	case idx.Terms == nil:
		return errors.Invalid(errors.ErrInvalidIndex, "index %q has no term resolver", idx.Name)
	case idx.Blocks == nil:
		return errors.Invalid(errors.ErrInvalidIndex, "index %q has no block store", idx.Name)
	}
	return nil
}

// Range restricts evaluation to documents in [Start, End]. End 0 means no
// upper bound; the zero Range accepts every document.
type Range struct {
	Start uint32
	End   uint32
}

func (r Range) active() bool { return r.Start > 1 || r.End != 0 }

func (r Range) validate() error {
	if r.End != 0 && r.Start > r.End {
		return errors.Invalid(errors.ErrInvalidDocumentRange, "start %d is after end %d", r.Start, r.End)
	}
	return nil
}

// TermQuery describes one term evaluation.
type TermQuery struct {
	Term string
	// Weight scales the term's IDF weight; 1.0 for query terms, lower for
	// feedback terms. Ignored by AccumulateBitmap.
	Weight float32
	// Fields restricts matching to the set field IDs. Nil searches every
	// field. The bitmap must be Index.FieldCount+1 bits long.
	Fields *bitset.BitSet
	// FrequentTermThreshold is the coverage percentage above which a term is
	// skipped as Frequent. Zero disables the check.
	FrequentTermThreshold float64
	Range                 Range
}

func (q TermQuery) validate(needWeight bool) error {
	if strings.TrimSpace(q.Term) == "" {
		return errors.Invalid(errors.ErrInvalidTerm, "term is empty")
	}
	if needWeight && (q.Weight <= 0 || math.IsNaN(float64(q.Weight)) || math.IsInf(float64(q.Weight), 0)) {
		return errors.Invalid(errors.ErrInvalidWeight, "weight must be positive and finite, got %v", q.Weight)
	}
	if q.FrequentTermThreshold < 0 || math.IsNaN(q.FrequentTermThreshold) {
		return errors.Invalid(errors.ErrInvalidThreshold, "threshold must not be negative, got %v", q.FrequentTermThreshold)
	}
	return q.Range.validate()
}

type Posting struct {
	DocumentID   uint32  `json:"document_id"`
	TermPosition uint32  `json:"term_position"`
	Weight       float32 `json:"weight"`
}

// PostingsList is the result of GetPostingsList. TermCount is the number of
// postings matched and DocumentCount the number of distinct documents they
// fall in.
type PostingsList struct {
	TermType      dictionary.TermType `json:"term_type"`
	TermCount     uint32              `json:"term_count"`
	DocumentCount uint32              `json:"document_count"`
	Postings      []Posting           `json:"postings"`
}
