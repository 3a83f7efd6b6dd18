// Package feedback accumulates the weights of many terms, typically the terms
// of documents a user marked relevant, into a single document weight vector.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/search"
	"github.com/fschiettecatte/mps-sub006/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Term is one weighted feedback term. A zero Weight takes Options.Weight.
type Term struct {
	Term   string  `json:"term"`
	Weight float32 `json:"weight,omitempty"`
}

type Options struct {
	// Workers bounds the number of terms evaluated at once. Values below 1
	// evaluate sequentially.
	Workers int
	// Weight is the default supplied weight of a feedback term, usually well
	// below the 1.0 given to query terms.
	Weight                float32
	Fields                *bitset.BitSet
	FrequentTermThreshold float64
	Range                 search.Range
}

// Accumulate runs AccumulateWeights for every term and returns the summed
// vector. Each worker owns its own vector, so no slot is written
// concurrently; the vectors are merged once every worker has finished. The
// first error cancels the remaining work.
func Accumulate(ctx context.Context, s *search.Searcher, idx *search.Index, terms []Term, opts Options) (*search.WeightVector, error) {
	start := time.Now()
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(terms) {
		workers = max(len(terms), 1)
	}

	vectors := make([]*search.WeightVector, workers)
	for i := range vectors {
		vectors[i] = search.NewWeightVector(idx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < len(terms); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				q := opts.query(terms[i])
				if _, err := s.AccumulateWeights(gctx, idx, q, vectors[w]); err != nil {
					return fmt.Errorf("feedback term %q: %w", terms[i].Term, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := vectors[0]
	for _, v := range vectors[1:] {
		if err := result.Add(v); err != nil {
			return nil, err
		}
	}
	logger.FromContext(ctx, slog.Default()).Debug("feedback accumulated",
		"index", idx.Name, "terms", len(terms), "workers", workers, "elapsed", time.Since(start))
	return result, nil
}

func (o Options) query(t Term) search.TermQuery {
	w := t.Weight
	if w == 0 {
		w = o.Weight
	}
	return search.TermQuery{
		Term:                  t.Term,
		Weight:                w,
		Fields:                o.Fields,
		FrequentTermThreshold: o.FrequentTermThreshold,
		Range:                 o.Range,
	}
}
