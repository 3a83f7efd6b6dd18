package blockstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
	"github.com/fschiettecatte/mps-sub006/pkg/resilience"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("backend unavailable")

// countingStore counts fetches and fails the first `failures` of them.
type countingStore struct {
	inner    Store
	calls    atomic.Int64
	failures int64
	delay    time.Duration
}

func (s *countingStore) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if n <= s.failures {
		return nil, errUnavailable
	}
	return s.inner.Fetch(ctx, blockID)
}

func seeded(t *testing.T, blocks map[uint64][]byte) *Memory {
	t.Helper()
	m := NewMemory()
	for id, b := range blocks {
		require.NoError(t, m.Put(context.Background(), id, b))
	}
	return m
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	src := []byte{0x03, 0x01, 0x00, 0x00}
	m := seeded(t, map[uint64][]byte{7: src})
	src[0] = 0xFF

	got, err := m.Fetch(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), got[0], "Put must copy")

	_, err = m.Fetch(ctx, 8)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, apperrors.ErrBlockNotFound)
	assert.Equal(t, 1, m.Len())
}

func TestCompressRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte{0x01, 0x00, 0x02}, 400)
	small := []byte{0x03, 0x05, 0x00, 0x01}
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			for _, block := range [][]byte{compressible, small, {}} {
				env, err := Compress(codec, block)
				require.NoError(t, err)
				got, err := Decompress(env)
				require.NoError(t, err)
				assert.Equal(t, len(block), len(got))
				assert.True(t, bytes.Equal(block, got))
			}
		})
	}

	env, err := Compress(CodecZSTD, compressible)
	require.NoError(t, err)
	assert.Equal(t, byte(CodecZSTD), env[0])
	assert.Less(t, len(env), len(compressible))

	// Incompressible input is stored as-is.
	env, err = Compress(CodecLZ4, small)
	require.NoError(t, err)
	assert.Equal(t, byte(CodecNone), env[0])
}

func TestDecompressCorrupt(t *testing.T) {
	cases := map[string][]byte{
		"short header":  {0x01, 0x00},
		"length":        {0x00, 0x09, 0x00, 0x00, 0x00, 0x01},
		"unknown codec": {0x09, 0x00, 0x00, 0x00, 0x00},
		"bad lz4":       {0x01, 0x10, 0x00, 0x00, 0x00, 0xFF, 0xFF},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decompress(env)
			assert.ErrorIs(t, err, apperrors.ErrCorruptBlock)
		})
	}
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCodec("snappy")
	assert.Error(t, err)
}

func TestCachingHitsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	backing := &countingStore{inner: seeded(t, map[uint64][]byte{1: {0x01}, 2: {0x02}})}
	c := NewCaching(backing, 1<<10, m)

	for i := 0; i < 3; i++ {
		got, err := c.Fetch(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01}, got)
	}
	assert.Equal(t, int64(1), backing.calls.Load())
	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BlockCacheHitsTotal))

	c.Invalidate()
	assert.Equal(t, int64(0), c.Size())
	_, err := c.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backing.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockCacheInvalidationsTotal))

	_, err = c.Fetch(ctx, 99)
	assert.True(t, IsNotFound(err))
}

func TestCachingEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{inner: seeded(t, map[uint64][]byte{
		1: make([]byte, 40), 2: make([]byte, 40), 3: make([]byte, 40),
	})}
	c := NewCaching(backing, 100, nil)

	for _, id := range []uint64{1, 2, 1, 3} {
		_, err := c.Fetch(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(80), c.Size())
	assert.Equal(t, int64(3), backing.calls.Load())

	// 2 was evicted when 3 arrived, 1 was kept because it was used.
	_, err := c.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), backing.calls.Load())
	_, err = c.Fetch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), backing.calls.Load())
}

func TestCachingSharesConcurrentMisses(t *testing.T) {
	backing := &countingStore{inner: seeded(t, map[uint64][]byte{5: {0x05}}), delay: 20 * time.Millisecond}
	c := NewCaching(backing, 1<<10, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, backing.calls.Load(), int64(8))
}

// gatedStore blocks every fetch until release is closed or the fetch's
// context ends.
type gatedStore struct {
	release chan struct{}
	calls   atomic.Int64
}

func (g *gatedStore) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return []byte{byte(blockID)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCachingCancelledCallerDoesNotFailOthers(t *testing.T) {
	backing := &gatedStore{release: make(chan struct{})}
	c := NewCaching(backing, 1<<10, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(first, 7)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return backing.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		block []byte
		err   error
	}
	second := make(chan result, 1)
	go func() {
		block, err := c.Fetch(context.Background(), 7)
		second <- result{block, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(backing.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []byte{7}, got.block)

	cached, err := c.Fetch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, cached)
	assert.Equal(t, int64(1), backing.calls.Load())
}

func fastResilience() ResilientConfig {
	return ResilientConfig{
		Retry:          resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond},
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
		Timeout:        time.Second,
	}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	backing := &countingStore{inner: seeded(t, map[uint64][]byte{1: {0x01}}), failures: 2}
	r := NewResilient(backing, "test", fastResilience(), nil)

	got, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
	assert.Equal(t, int64(3), backing.calls.Load())
}

func TestResilientDoesNotRetryMissingBlocks(t *testing.T) {
	backing := &countingStore{inner: NewMemory()}
	r := NewResilient(backing, "test", fastResilience(), nil)

	for i := 0; i < 5; i++ {
		_, err := r.Fetch(context.Background(), 42)
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, int64(5), backing.calls.Load())
	assert.Equal(t, resilience.StateClosed, r.BreakerState())
}

func TestResilientOpensBreaker(t *testing.T) {
	backing := &countingStore{inner: NewMemory(), failures: 1 << 20}
	m := metrics.New(prometheus.NewRegistry())
	r := NewResilient(backing, "test", fastResilience(), m)

	for i := 0; i < 2; i++ {
		_, err := r.Fetch(context.Background(), 1)
		assert.ErrorIs(t, err, errUnavailable)
	}
	assert.Equal(t, resilience.StateOpen, r.BreakerState())

	calls := backing.calls.Load()
	_, err := r.Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, calls, backing.calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BlockFetchErrorsTotal))
}

func TestThrottled(t *testing.T) {
	store := NewThrottled(seeded(t, map[uint64][]byte{1: {0x01}}), 1)
	got, err := store.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	// The single token is spent; a cancelled context cannot wait for another.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Fetch(ctx, 1)
	assert.Error(t, err)

	unlimited := NewThrottled(seeded(t, map[uint64][]byte{1: {0x01}}), 0)
	for i := 0; i < 100; i++ {
		_, err := unlimited.Fetch(context.Background(), 1)
		require.NoError(t, err)
	}
}

var errMissingKey = errors.New("missing key")

type fakeKV struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
}

func (f *fakeKV) GetBytes(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return nil, errMissingKey
	}
	return v, nil
}

func (f *fakeKV) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
	r := &Redis{
		client: kv,
		prefix: "mps:block:",
		ttl:    time.Hour,
		codec:  CodecZSTD,
		isNil:  func(err error) bool { return errors.Is(err, errMissingKey) },
	}
	block := bytes.Repeat([]byte{0x01, 0x00, 0x00}, 200)

	require.NoError(t, r.Put(ctx, 4096, block))
	assert.Contains(t, kv.values, "mps:block:4096")
	assert.Equal(t, time.Hour, kv.ttls["mps:block:4096"])
	assert.Less(t, len(kv.values["mps:block:4096"]), len(block))

	got, err := r.Fetch(ctx, 4096)
	require.NoError(t, err)
	assert.Equal(t, block, got)

	_, err = r.Fetch(ctx, 1)
	assert.True(t, IsNotFound(err))
}

func TestMinioKeyAndMissingObject(t *testing.T) {
	m := NewMinio(nil, "mps-blocks", "blocks/", CodecNone)
	assert.Equal(t, "blocks/123", m.key(123))
	assert.True(t, IsNotFound(m.fetchError(123, minio.ErrorResponse{Code: "NoSuchKey"})))
	assert.False(t, IsNotFound(m.fetchError(123, errors.New("connection reset"))))
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src := seeded(t, map[uint64][]byte{1: {0x01}, 2: {0x02}, 3: {0x03}})
	dst := NewMemory()

	require.NoError(t, Copy(ctx, src, dst, []uint64{1, 2, 3}, 2))
	assert.Equal(t, 3, dst.Len())
	got, err := dst.Fetch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)

	err = Copy(ctx, src, NewMemory(), []uint64{1, 9}, 2)
	assert.ErrorIs(t, err, apperrors.ErrBlockNotFound)
}

type invalidateCounter struct{ n int }

func (c *invalidateCounter) Invalidate() { c.n++ }

func TestInvalidationHandler(t *testing.T) {
	cache := &invalidateCounter{}
	handle := InvalidationHandler("news", cache)
	ctx := context.Background()

	require.NoError(t, handle(ctx, []byte("news"), []byte(`{"index":"news","generation":3,"blocks":10}`)))
	require.NoError(t, handle(ctx, []byte("blogs"), []byte(`{"index":"blogs","generation":1}`)))
	assert.Equal(t, 1, cache.n)

	assert.Error(t, handle(ctx, nil, []byte(`not json`)))
	assert.Equal(t, 1, cache.n)
}
