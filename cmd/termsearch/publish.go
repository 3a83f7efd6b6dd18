package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/kafka"
)

const publishWorkers = 8

// publish copies every block of the segment to the remote block store, writes
// its dictionary to PostgreSQL and announces the new generation on Kafka so
// that running searchers drop their cached blocks.
func publish(ctx context.Context, cfg *config.Config, idx *openedIndex) error {
	if idx.remote == nil {
		return errors.Invalid(errors.ErrUsage, "publish needs index.blocks set to redis or minio, got %q", cfg.Index.Blocks)
	}
	if idx.pg == nil {
		return errors.Invalid(errors.ErrUsage, "publish needs index.dictionary set to postgres, got %q", cfg.Index.Dictionary)
	}
	start := time.Now()

	ids := idx.segment.BlockIDs()
	if err := blockstore.Copy(ctx, idx.segment, idx.remote, ids, publishWorkers); err != nil {
		return fmt.Errorf("publishing blocks: %w", err)
	}

	entries := idx.segment.Entries()
	if err := dictionary.NewPostgres(idx.pg.DB, idx.pg.Table).Publish(ctx, entries); err != nil {
		return fmt.Errorf("publishing dictionary: %w", err)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdates)
	defer producer.Close()
	update := blockstore.IndexUpdate{
		Index:       cfg.Index.Name,
		Generation:  uint64(time.Now().UnixNano()),
		Blocks:      len(ids),
		PublishedAt: time.Now().UTC(),
	}
	if err := producer.Publish(ctx, update.Index, update); err != nil {
		return fmt.Errorf("announcing index update: %w", err)
	}

	slog.Info("index published",
		"name", cfg.Index.Name,
		"terms", len(entries),
		"blocks", len(ids),
		"generation", update.Generation,
		"elapsed", time.Since(start),
	)
	return nil
}
