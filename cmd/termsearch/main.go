// Command termsearch evaluates single terms against an index and prints the
// result as JSON. It also builds segment files and publishes them to the
// remote dictionary and block stores.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/feedback"
	"github.com/fschiettecatte/mps-sub006/internal/search"
	"github.com/fschiettecatte/mps-sub006/internal/search/fields"
	"github.com/fschiettecatte/mps-sub006/internal/search/weight"
	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/kafka"
	"github.com/fschiettecatte/mps-sub006/pkg/logger"
	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
)

type options struct {
	configPath string
	term       string
	mode       string
	fields     string
	weight     float64
	threshold  float64
	start      uint
	end        uint
	watch      bool
	publish    bool
	build      string
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("termsearch", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "configs/termsearch.yaml", "path to config file")
	fs.StringVar(&o.term, "term", "", "term to evaluate; read one per line from stdin when empty")
	fs.StringVar(&o.mode, "mode", "postings", "evaluator: postings, weights, bitmap or feedback")
	fs.StringVar(&o.fields, "fields", "", "comma separated field IDs to restrict matching to")
	fs.Float64Var(&o.weight, "weight", 1.0, "supplied term weight")
	fs.Float64Var(&o.threshold, "threshold", -1, "frequent term threshold in percent; negative uses the configured value")
	fs.UintVar(&o.start, "start", 0, "first document ID to consider")
	fs.UintVar(&o.end, "end", 0, "last document ID to consider, 0 for no limit")
	fs.BoolVar(&o.watch, "watch", false, "invalidate cached blocks on index-update events")
	fs.BoolVar(&o.publish, "publish", false, "publish the segment's dictionary and blocks, then exit")
	fs.StringVar(&o.build, "build", "", "build the segment file from this JSON postings file, then exit")
	if err := fs.Parse(args); err != nil {
		return nil, errors.New(errors.ErrUsage, errors.CodeUsage, err.Error())
	}
	switch o.mode {
	case "postings", "weights", "bitmap", "feedback":
	default:
		return nil, errors.Invalid(errors.ErrUsage, "unknown mode %q", o.mode)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(errors.CodeUsage)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, o, os.Stdin, os.Stdout); err != nil {
		slog.Error("termsearch failed", "error", err)
		stop()
		os.Exit(errors.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, o *options, stdin io.Reader, stdout io.Writer) error {
	if o.build != "" {
		return buildSegment(o.build, cfg)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}

	idx, err := openIndex(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer idx.Close()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, idx.healthChecker(cfg.Index.Path))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	if o.publish {
		return publish(ctx, cfg, idx)
	}

	if o.watch && idx.cache != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdates,
			blockstore.InvalidationHandler(cfg.Index.Name, idx.cache))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index update consumer stopped", "error", err)
			}
		}()
		slog.Info("watching index updates", "topic", cfg.Kafka.Topics.IndexUpdates)
	}

	idf, err := weight.Lookup(cfg.Search.IDF)
	if err != nil {
		return errors.Invalid(errors.ErrUsage, "search.idf: %v", err)
	}
	s := search.NewSearcher(search.Config{IDF: idf, MaxAllocationBytes: cfg.Search.MaxAllocationBytes}, m)

	q, err := o.query(cfg, idx.FieldCount)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if o.term != "" {
		return evaluate(ctx, s, idx.Index, cfg, o.mode, o.term, q, enc)
	}
	scanner := bufio.NewScanner(stdin)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		qctx := logger.WithQueryID(ctx, strconv.Itoa(n))
		if err := evaluate(qctx, s, idx.Index, cfg, o.mode, line, q, enc); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// query builds the TermQuery template shared by every term of the run.
func (o *options) query(cfg *config.Config, fieldCount uint32) (search.TermQuery, error) {
	if o.start > math.MaxUint32 || o.end > math.MaxUint32 {
		return search.TermQuery{}, errors.Invalid(errors.ErrInvalidDocumentRange,
			"document range %d-%d exceeds %d", o.start, o.end, uint32(math.MaxUint32))
	}
	q := search.TermQuery{
		Weight:                float32(o.weight),
		FrequentTermThreshold: cfg.Search.FrequentTermThreshold,
		Range:                 search.Range{Start: uint32(o.start), End: uint32(o.end)},
	}
	if o.threshold >= 0 {
		q.FrequentTermThreshold = o.threshold
	}
	if o.fields != "" {
		var ids []uint32
		for _, part := range strings.Split(o.fields, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				return search.TermQuery{}, errors.Invalid(errors.ErrInvalidFieldBitmap, "field %q is not a number", part)
			}
			ids = append(ids, uint32(id))
		}
		bits, err := fields.Bitmap(fieldCount, ids...)
		if err != nil {
			return search.TermQuery{}, err
		}
		q.Fields = bits
	}
	return q, nil
}

type weightedDocument struct {
	DocumentID uint32  `json:"document_id"`
	Weight     float32 `json:"weight"`
}

type weightsResult struct {
	Term      string             `json:"term"`
	Documents []weightedDocument `json:"documents"`
}

type bitmapResult struct {
	Term      string   `json:"term"`
	Count     uint64   `json:"count"`
	Documents []uint32 `json:"documents"`
}

type postingsResult struct {
	Term string `json:"term"`
	*search.PostingsList
}

func evaluate(ctx context.Context, s *search.Searcher, idx *search.Index, cfg *config.Config, mode, term string, q search.TermQuery, enc *json.Encoder) error {
	q.Term = term
	switch mode {
	case "weights":
		vec, err := s.AccumulateWeights(ctx, idx, q, nil)
		if err != nil {
			return err
		}
		return enc.Encode(weightsResult{Term: term, Documents: nonZero(vec)})
	case "bitmap":
		bm, err := s.AccumulateBitmap(ctx, idx, q, nil)
		if err != nil {
			return err
		}
		rb := bm.ToRoaring()
		return enc.Encode(bitmapResult{Term: term, Count: rb.GetCardinality(), Documents: rb.ToArray()})
	case "feedback":
		var terms []feedback.Term
		for _, t := range strings.FieldsFunc(term, func(r rune) bool { return r == ',' || r == ' ' }) {
			terms = append(terms, feedback.Term{Term: t})
		}
		vec, err := feedback.Accumulate(ctx, s, idx, terms, feedback.Options{
			Workers:               cfg.Search.FeedbackWorkers,
			Weight:                float32(cfg.Search.FeedbackWeight),
			Fields:                q.Fields,
			FrequentTermThreshold: q.FrequentTermThreshold,
			Range:                 q.Range,
		})
		if err != nil {
			return err
		}
		return enc.Encode(weightsResult{Term: term, Documents: nonZero(vec)})
	default:
		list, err := s.GetPostingsList(ctx, idx, q)
		if err != nil {
			return err
		}
		return enc.Encode(postingsResult{Term: term, PostingsList: list})
	}
}

func nonZero(vec *search.WeightVector) []weightedDocument {
	docs := []weightedDocument{}
	for id, w := range vec.Weights() {
		if w != 0 {
			docs = append(docs, weightedDocument{DocumentID: uint32(id), Weight: w})
		}
	}
	return docs
}
