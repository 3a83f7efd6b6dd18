// Package blockstore fetches postings blocks by block ID. Backends (memory,
// segment file, Redis, MinIO) implement Store; decorators add caching, rate
// limiting, retry and circuit breaking on top of any of them.
//
// A fetched block is shared: callers must not modify it.
package blockstore

import (
	"context"
	"fmt"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Store returns the raw postings block stored under blockID. A missing block
// is reported with an error wrapping errors.ErrBlockNotFound.
type Store interface {
	Fetch(ctx context.Context, blockID uint64) ([]byte, error)
}

// Writer stores a raw postings block under blockID.
type Writer interface {
	Put(ctx context.Context, blockID uint64, block []byte) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, blockID uint64) ([]byte, error)

func (f StoreFunc) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	return f(ctx, blockID)
}

func notFound(blockID uint64) error {
	return fmt.Errorf("block %d: %w", blockID, errors.ErrBlockNotFound)
}

// IsNotFound reports whether err means the block does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.ErrBlockNotFound)
}
