package feedback

import (
	"context"
	"fmt"
	"testing"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
	"github.com/fschiettecatte/mps-sub006/internal/search"
	apperrors "github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documents = 50

func testIndex(t *testing.T, termCount int) (*search.Index, []Term) {
	t.Helper()
	terms := dictionary.NewMemory()
	blocks := blockstore.NewMemory()
	var out []Term
	for i := 0; i < termCount; i++ {
		var occ []postings.Occurrence
		for d := uint32(i%5 + 1); d <= documents; d += uint32(i%7 + 2) {
			occ = append(occ, postings.Occurrence{DocumentID: d, Position: uint32(i), FieldID: 1})
		}
		block, err := postings.EncodeOccurrences(occ)
		require.NoError(t, err)
		id := uint64(i + 1)
		require.NoError(t, blocks.Put(context.Background(), id, block))
		name := fmt.Sprintf("term%02d", i)
		terms.Add(name, dictionary.TermInfo{
			Type:          dictionary.Regular,
			TermCount:     uint32(len(occ)),
			DocumentCount: uint32(len(occ)),
			BlockID:       id,
		})
		out = append(out, Term{Term: name})
	}
	return &search.Index{Name: "feedback", Terms: terms, Blocks: blocks, DocumentCount: documents, FieldCount: 1}, out
}

func TestParallelMatchesSequential(t *testing.T) {
	idx, terms := testIndex(t, 23)
	terms[3].Weight = 0.7
	s := search.NewSearcher(search.Config{}, nil)
	ctx := context.Background()
	opts := Options{Weight: 0.1}

	want := search.NewWeightVector(idx)
	for _, term := range terms {
		_, err := s.AccumulateWeights(ctx, idx, opts.query(term), want)
		require.NoError(t, err)
	}

	for _, workers := range []int{0, 1, 4, 64} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			opts.Workers = workers
			got, err := Accumulate(ctx, s, idx, terms, opts)
			require.NoError(t, err)
			require.Equal(t, want.Len(), got.Len())
			for d := uint32(0); d <= documents; d++ {
				assert.InDelta(t, want.At(d), got.At(d), 1e-5, "document %d", d)
			}
		})
	}
}

func TestNoTerms(t *testing.T) {
	idx, _ := testIndex(t, 1)
	got, err := Accumulate(context.Background(), search.NewSearcher(search.Config{}, nil), idx, nil, Options{Workers: 4, Weight: 0.1})
	require.NoError(t, err)
	assert.Equal(t, documents+1, got.Len())
	for _, w := range got.Weights() {
		assert.Zero(t, w)
	}
}

func TestFirstErrorWins(t *testing.T) {
	idx, terms := testIndex(t, 8)
	terms = append(terms, Term{Term: " "})
	s := search.NewSearcher(search.Config{}, nil)

	_, err := Accumulate(context.Background(), s, idx, terms, Options{Workers: 3, Weight: 0.1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTerm)
}

func TestCancelledContext(t *testing.T) {
	idx, terms := testIndex(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Accumulate(ctx, search.NewSearcher(search.Config{}, nil), idx, terms, Options{Workers: 2, Weight: 0.1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnknownTermsAreSkipped(t *testing.T) {
	idx, terms := testIndex(t, 2)
	terms = append(terms, Term{Term: "nowhere"})

	got, err := Accumulate(context.Background(), search.NewSearcher(search.Config{}, nil), idx, terms, Options{Workers: 2, Weight: 0.1})
	require.NoError(t, err)
	assert.NotZero(t, got.At(1))
}
