package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
	"github.com/fschiettecatte/mps-sub006/internal/search/fields"
	"github.com/fschiettecatte/mps-sub006/internal/search/weight"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/logger"
	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
)

const (
	evalPostings = "postings"
	evalWeights  = "weights"
	evalBitmap   = "bitmap"

	outcomeError = "error"

	postingBytes = 12
	weightBytes  = 4
)

type Config struct {
	// IDF defaults to weight.Cosine.
	IDF weight.IDF
	// MaxAllocationBytes caps the postings array or accumulator a single
	// call may allocate. Zero means no cap.
	MaxAllocationBytes int64
}

// Searcher runs term evaluations. It holds no per-call state and is safe for
// concurrent use; accumulator buffers passed to it are not.
type Searcher struct {
	calculator         weight.Calculator
	maxAllocationBytes int64
	metrics            *metrics.Metrics
	logger             *slog.Logger
}

// NewSearcher creates a Searcher. m may be nil.
func NewSearcher(cfg Config, m *metrics.Metrics) *Searcher {
	return &Searcher{
		calculator:         weight.NewCalculator(cfg.IDF),
		maxAllocationBytes: cfg.MaxAllocationBytes,
		metrics:            m,
		logger:             slog.Default().With("component", "term-search"),
	}
}

// resolution is the state shared by the evaluators once a term has been
// looked up and, unless the call short-circuited, its block opened.
type resolution struct {
	info    dictionary.TermInfo
	outcome dictionary.TermType
	done    bool
	reader  postings.Reader
}

func (s *Searcher) validate(idx *Index, q TermQuery, needWeight bool) (fields.Filter, error) {
	if err := idx.validate(); err != nil {
		return fields.Filter{}, err
	}
	if err := q.validate(needWeight); err != nil {
		return fields.Filter{}, err
	}
	return fields.Classify(q.Fields, idx.FieldCount)
}

// resolve looks the term up and applies the absent, stop and frequent
// short-circuits before fetching and opening the block.
func (s *Searcher) resolve(ctx context.Context, idx *Index, q TermQuery, filter fields.Filter) (*resolution, error) {
	info, err := idx.Terms.Lookup(ctx, q.Term, q.Fields)
	switch {
	case errors.Is(err, dictionary.ErrTermNotFound), errors.Is(err, dictionary.ErrTermDoesNotOccur):
		return &resolution{outcome: dictionary.Unknown, done: true}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: term %q in index %q: %w", errors.ErrTermLookupFailed, q.Term, idx.Name, err)
	}

	res := &resolution{info: info, outcome: info.Type}
	if info.Type == dictionary.Stop && !filter.Active() {
		res.outcome, res.done = dictionary.Stop, true
		return res, nil
	}
	if q.FrequentTermThreshold > 0 && info.Type != dictionary.Stop && idx.DocumentCount > 0 {
		coverage := float64(info.TermCount) / float64(idx.DocumentCount) * 100
		if coverage > q.FrequentTermThreshold {
			res.outcome, res.done = dictionary.Frequent, true
			return res, nil
		}
	}

	block, err := idx.Blocks.Fetch(ctx, info.BlockID)
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("block fetch failed",
			"index", idx.Name, "term", q.Term, "block_id", info.BlockID, "error", err)
		return nil, fmt.Errorf("%w: term %q block %d: %w", errors.ErrGetBlockFailed, q.Term, info.BlockID, err)
	}
	if err := res.reader.Reset(block); err != nil {
		return nil, blockError(q.Term, info.BlockID, err)
	}
	return res, nil
}

func (s *Searcher) checkAllocation(count, size uint64) error {
	if s.maxAllocationBytes <= 0 {
		return nil
	}
	if size != 0 && count > uint64(s.maxAllocationBytes)/size {
		return errors.Newf(errors.ErrMemory, errors.CodeMemory,
			"%d elements of %d bytes exceed the %d byte allocation limit", count, size, s.maxAllocationBytes)
	}
	return nil
}

func (s *Searcher) observe(ctx context.Context, evaluator string, q TermQuery, outcome string, decoded int, start time.Time) {
	elapsed := time.Since(start)
	s.metrics.ObserveEvaluation(evaluator, outcome, decoded, elapsed)
	logger.FromContext(ctx, s.logger).Debug("term evaluated",
		"evaluator", evaluator, "term", q.Term, "outcome", outcome, "decoded", decoded, "elapsed", elapsed)
}

// GetPostingsList returns every posting of q.Term that passes the field
// filter and range, all carrying the term's adjusted weight. Absent, stop
// and frequent terms yield an empty list tagged with that type.
func (s *Searcher) GetPostingsList(ctx context.Context, idx *Index, q TermQuery) (*PostingsList, error) {
	start := time.Now()
	filter, err := s.validate(idx, q, true)
	if err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, idx, q, filter)
	if err != nil {
		s.observe(ctx, evalPostings, q, outcomeError, 0, start)
		return nil, err
	}
	if res.done {
		s.observe(ctx, evalPostings, q, res.outcome.String(), 0, start)
		return &PostingsList{TermType: res.outcome}, nil
	}
	if res.reader.Empty() {
		s.observe(ctx, evalPostings, q, res.outcome.String(), 0, start)
		return &PostingsList{
			TermType:      res.info.Type,
			TermCount:     res.info.TermCount,
			DocumentCount: res.info.DocumentCount,
		}, nil
	}

	if err := s.checkAllocation(uint64(res.info.TermCount), postingBytes); err != nil {
		s.observe(ctx, evalPostings, q, outcomeError, 0, start)
		return nil, err
	}
	sink := &postingsSink{
		postings: make([]Posting, 0, res.info.TermCount),
		weight:   s.calculator.Adjusted(res.info.TermCount, res.info.DocumentCount, idx.DocumentCount, q.Weight),
	}
	decoded, err := traverse(&res.reader, filter, sink, q.Range, idx.DocumentCount)
	if err != nil {
		s.observe(ctx, evalPostings, q, outcomeError, decoded, start)
		return nil, blockError(q.Term, res.info.BlockID, err)
	}

	list := &PostingsList{
		TermType:      res.info.Type,
		TermCount:     uint32(len(sink.postings)),
		DocumentCount: sink.documents,
		Postings:      shrink(sink.postings),
	}
	if !filter.Active() && !q.Range.active() {
		list.DocumentCount = res.info.DocumentCount
	}
	s.observe(ctx, evalPostings, q, res.outcome.String(), decoded, start)
	return list, nil
}

// shrink returns postings without spare capacity, or nil when empty.
func shrink(postings []Posting) []Posting {
	switch {
	case len(postings) == 0:
		return nil
	case len(postings) == cap(postings):
		return postings
	}
	out := make([]Posting, len(postings))
	copy(out, postings)
	return out
}

// AccumulateWeights adds the term's adjusted weight into the vector slot of
// every matching document, once per matching posting. With a nil target a
// new vector of DocumentCount+1 slots is allocated; otherwise target must be
// writable and large enough, and is returned. Short-circuited terms leave
// the vector unchanged. On error a supplied target is restored.
func (s *Searcher) AccumulateWeights(ctx context.Context, idx *Index, q TermQuery, target *WeightVector) (*WeightVector, error) {
	start := time.Now()
	filter, err := s.validate(idx, q, true)
	if err != nil {
		return nil, err
	}
	need := uint64(idx.DocumentCount) + 1
	supplied := target != nil
	if supplied {
		if err := target.writable(int(need)); err != nil {
			return nil, err
		}
	} else {
		if err := s.checkAllocation(need, weightBytes); err != nil {
			return nil, err
		}
		target = &WeightVector{weights: make([]float32, need), ownership: Owned}
	}

	res, err := s.resolve(ctx, idx, q, filter)
	if err != nil {
		s.observe(ctx, evalWeights, q, outcomeError, 0, start)
		return nil, err
	}
	if res.done || res.reader.Empty() {
		s.observe(ctx, evalWeights, q, res.outcome.String(), 0, start)
		return target, nil
	}

	sink := &weightSink{
		weights: target.weights,
		weight:  s.calculator.Adjusted(res.info.TermCount, res.info.DocumentCount, idx.DocumentCount, q.Weight),
		journal: supplied,
	}
	decoded, err := traverse(&res.reader, filter, sink, q.Range, idx.DocumentCount)
	if err != nil {
		sink.rollback()
		s.observe(ctx, evalWeights, q, outcomeError, decoded, start)
		return nil, blockError(q.Term, res.info.BlockID, err)
	}
	s.observe(ctx, evalWeights, q, res.outcome.String(), decoded, start)
	return target, nil
}

// AccumulateBitmap sets the bit of every document with a matching posting.
// q.Weight is ignored. Ownership and short-circuit rules are those of
// AccumulateWeights.
func (s *Searcher) AccumulateBitmap(ctx context.Context, idx *Index, q TermQuery, target *Bitmap) (*Bitmap, error) {
	start := time.Now()
	filter, err := s.validate(idx, q, false)
	if err != nil {
		return nil, err
	}
	need := uint(idx.DocumentCount) + 1
	supplied := target != nil
	if supplied {
		if err := target.writable(need); err != nil {
			return nil, err
		}
	} else {
		if err := s.checkAllocation(uint64(need+63)/64, 8); err != nil {
			return nil, err
		}
		target = &Bitmap{bits: bitset.New(need), ownership: Owned}
	}

	res, err := s.resolve(ctx, idx, q, filter)
	if err != nil {
		s.observe(ctx, evalBitmap, q, outcomeError, 0, start)
		return nil, err
	}
	if res.done || res.reader.Empty() {
		s.observe(ctx, evalBitmap, q, res.outcome.String(), 0, start)
		return target, nil
	}

	sink := &bitmapSink{bits: target.bits, journal: supplied}
	decoded, err := traverse(&res.reader, filter, sink, q.Range, idx.DocumentCount)
	if err != nil {
		sink.rollback()
		s.observe(ctx, evalBitmap, q, outcomeError, decoded, start)
		return nil, blockError(q.Term, res.info.BlockID, err)
	}
	s.observe(ctx, evalBitmap, q, res.outcome.String(), decoded, start)
	return target, nil
}

// NewWeightVector allocates an empty vector sized for idx, for callers that
// reuse one vector across many AccumulateWeights calls.
func NewWeightVector(idx *Index) *WeightVector {
	return &WeightVector{weights: make([]float32, uint64(idx.DocumentCount)+1), ownership: Borrowed}
}

// NewBitmap allocates an empty bitmap sized for idx.
func NewBitmap(idx *Index) *Bitmap {
	return &Bitmap{bits: bitset.New(uint(idx.DocumentCount) + 1), ownership: Borrowed}
}
