package blockstore

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Copy fetches each block in blockIDs from src and stores it in dst, running
// up to workers transfers at once. It stops at the first failure.
func Copy(ctx context.Context, src Store, dst Writer, blockIDs []uint64, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range blockIDs {
		g.Go(func() error {
			block, err := src.Fetch(ctx, id)
			if err != nil {
				return fmt.Errorf("copying block %d: %w", id, err)
			}
			if err := dst.Put(ctx, id, block); err != nil {
				return fmt.Errorf("copying block %d: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Default().With("component", "block-copy").Info("blocks copied", "count", len(blockIDs))
	return nil
}
