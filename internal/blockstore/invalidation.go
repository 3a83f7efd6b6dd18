package blockstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/fschiettecatte/mps-sub006/pkg/kafka"
)

// IndexUpdate announces that the blocks of an index were republished.
type IndexUpdate struct {
	Index       string    `json:"index"`
	Generation  uint64    `json:"generation"`
	Blocks      int       `json:"blocks"`
	PublishedAt time.Time `json:"published_at"`
}

// Invalidator is implemented by caches that can drop their contents.
type Invalidator interface {
	Invalidate()
}

// InvalidationHandler returns a Kafka message handler that invalidates cache
// whenever an IndexUpdate for index arrives. Updates for other indexes are
// acknowledged and ignored.
func InvalidationHandler(index string, cache Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "block-invalidator", "index", index)
	return func(ctx context.Context, key []byte, value []byte) error {
		update, err := kafka.DecodeJSON[IndexUpdate](value)
		if err != nil {
			return err
		}
		if update.Index != index {
			return nil
		}
		logger.Info("index updated", "generation", update.Generation, "blocks", update.Blocks)
		cache.Invalidate()
		return nil
	}
}
