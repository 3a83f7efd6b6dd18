package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/search"
	"github.com/fschiettecatte/mps-sub006/internal/segment"
	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/health"
	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
	"github.com/fschiettecatte/mps-sub006/pkg/postgres"
	pkgredis "github.com/fschiettecatte/mps-sub006/pkg/redis"
	"github.com/fschiettecatte/mps-sub006/pkg/resilience"
)

// openedIndex is an Index plus the resources behind it. The segment file is
// always opened: it carries the document and field counts even when terms
// and blocks are served remotely.
type openedIndex struct {
	*search.Index
	segment *segment.Reader
	cache   *blockstore.Caching
	// remote is the configured remote block store, nil when blocks are read
	// from the segment file.
	remote    blockstore.Writer
	resilient *blockstore.Resilient
	pg        *postgres.Client
	redis     *pkgredis.Client
	closers   []io.Closer
}

func (o *openedIndex) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	return nil
}

func openIndex(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*openedIndex, error) {
	seg, err := segment.Open(cfg.Index.Path)
	if err != nil {
		return nil, err
	}
	o := &openedIndex{segment: seg, closers: []io.Closer{seg}}
	idx := &search.Index{
		Name:          cfg.Index.Name,
		DocumentCount: seg.DocumentCount(),
		FieldCount:    seg.FieldCount(),
	}
	o.Index = idx

	switch cfg.Index.Dictionary {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.pg = pg
		o.closers = append(o.closers, pg)
		idx.Terms = dictionary.NewPostgres(pg.DB, pg.Table)
	default:
		idx.Terms = seg
	}

	codec, err := blockstore.ParseCodec(cfg.BlockStore.Compression)
	if err != nil {
		o.Close()
		return nil, err
	}
	var blocks blockstore.Store = seg
	switch cfg.Index.Blocks {
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.redis = client
		o.closers = append(o.closers, client)
		rs := blockstore.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.BlockTTL, codec)
		o.remote = rs
		blocks, o.resilient = guard(rs, "redis-blocks", cfg.BlockStore, m)
	case "minio":
		client, err := blockstore.NewMinioClient(cfg.Minio)
		if err != nil {
			o.Close()
			return nil, err
		}
		ms := blockstore.NewMinio(client, cfg.Minio.Bucket, cfg.Minio.Prefix, codec)
		o.remote = ms
		blocks, o.resilient = guard(ms, "minio-blocks", cfg.BlockStore, m)
	}

	if cfg.BlockStore.CacheBytes > 0 {
		o.cache = blockstore.NewCaching(blocks, cfg.BlockStore.CacheBytes, m)
		blocks = o.cache
	}
	idx.Blocks = blocks

	stats := seg.Stats()
	slog.Info("index opened",
		"name", idx.Name,
		"path", cfg.Index.Path,
		"dictionary", cfg.Index.Dictionary,
		"blocks", cfg.Index.Blocks,
		"documents", stats.Documents,
		"fields", stats.Fields,
		"terms", stats.Terms,
		"codec", stats.Codec,
		"created_at", stats.CreatedAt,
	)
	return o, nil
}

// guard wraps a remote store with retries, a circuit breaker and the
// configured fetch rate limit.
func guard(store blockstore.Store, name string, cfg config.BlockStoreConfig, m *metrics.Metrics) (blockstore.Store, *blockstore.Resilient) {
	resilient := blockstore.NewResilient(store, name, blockstore.ResilientConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		},
		Timeout: cfg.FetchTimeout,
	}, m)
	if cfg.MaxFetchesPerSecond <= 0 {
		return resilient, resilient
	}
	return blockstore.NewThrottled(resilient, cfg.MaxFetchesPerSecond), resilient
}

// healthChecker probes the backends the index was opened with. Only the
// segment file and the PostgreSQL dictionary are critical; a failing remote
// block store still leaves cached blocks servable.
func (o *openedIndex) healthChecker(path string) *health.Checker {
	c := health.NewChecker(2 * time.Second)
	c.Register("segment", true, func(context.Context) error {
		_, err := os.Stat(path)
		return err
	})
	if o.pg != nil {
		c.Register("postgres", true, func(ctx context.Context) error {
			return o.pg.DB.PingContext(ctx)
		})
	}
	if o.redis != nil {
		c.Register("redis", false, o.redis.Ping)
	}
	if o.resilient != nil {
		c.Register("block-store-breaker", false, func(context.Context) error {
			if state := o.resilient.BreakerState(); state == resilience.StateOpen {
				return fmt.Errorf("circuit breaker is %s", state)
			}
			return nil
		})
	}
	return c
}
