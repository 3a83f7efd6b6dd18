package blockstore

import (
	"container/list"
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Caching keeps recently fetched blocks in a byte-bounded LRU in front of
// another Store. Concurrent misses for the same block share one fetch.
type Caching struct {
	inner    Store
	capacity int64
	metrics  *metrics.Metrics
	logger   *slog.Logger
	group    singleflight.Group

	mu         sync.Mutex
	size       int64
	generation uint64
	items      map[uint64]*list.Element
	evictList  *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	blockID uint64
	block   []byte
}

// NewCaching wraps inner with a cache of at most capacity bytes. m may be nil.
func NewCaching(inner Store, capacity int64, m *metrics.Metrics) *Caching {
	return &Caching{
		inner:     inner,
		capacity:  capacity,
		metrics:   m,
		logger:    slog.Default().With("component", "block-cache"),
		items:     make(map[uint64]*list.Element),
		evictList: list.New(),
	}
}

func (c *Caching) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	if block, ok := c.get(blockID); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		return block, nil
	}
	c.misses.Add(1)
	c.metrics.CacheMiss()

	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	// The shared fetch outlives any one caller, so a cancelled caller does
	// not fail the others waiting on the same block.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(blockID, 10), func() (any, error) {
		block, err := c.inner.Fetch(flightCtx, blockID)
		if err != nil {
			return nil, err
		}
		c.set(blockID, block, generation)
		return block, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Caching) get(blockID uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[blockID]; ok {
		c.evictList.MoveToFront(el)
		return el.Value.(*cacheEntry).block, true
	}
	return nil, false
}

// set caches block unless an Invalidate ran since the fetch started.
func (c *Caching) set(blockID uint64, block []byte, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	itemSize := int64(len(block))
	if itemSize > c.capacity {
		return
	}
	if el, ok := c.items[blockID]; ok {
		c.removeElement(el)
	}
	for c.size+itemSize > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}
	c.items[blockID] = c.evictList.PushFront(&cacheEntry{blockID: blockID, block: block})
	c.size += itemSize
}

func (c *Caching) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*cacheEntry)
	delete(c.items, ent.blockID)
	c.size -= int64(len(ent.block))
}

// Invalidate drops every cached block. Fetches already in flight do not
// repopulate the cache.
func (c *Caching) Invalidate() {
	c.mu.Lock()
	dropped := len(c.items)
	c.items = make(map[uint64]*list.Element)
	c.evictList.Init()
	c.size = 0
	c.generation++
	c.mu.Unlock()

	c.metrics.CacheInvalidated()
	c.logger.Info("block cache invalidated", "dropped", dropped)
}

func (c *Caching) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *Caching) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
