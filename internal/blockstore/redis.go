package blockstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fschiettecatte/mps-sub006/pkg/redis"
)

// kv is the subset of the Redis client the block store needs.
type kv interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

var _ kv = (*redis.Client)(nil)

// Redis stores compressed block envelopes as Redis string values under
// prefix + blockID.
type Redis struct {
	client kv
	prefix string
	ttl    time.Duration
	codec  Codec
	isNil  func(error) bool
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, codec Codec) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, codec: codec, isNil: redis.IsNilError}
}

func (r *Redis) key(blockID uint64) string {
	return r.prefix + strconv.FormatUint(blockID, 10)
}

func (r *Redis) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	envelope, err := r.client.GetBytes(ctx, r.key(blockID))
	if r.isNil(err) {
		return nil, notFound(blockID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get block %d: %w", blockID, err)
	}
	return Decompress(envelope)
}

func (r *Redis) Put(ctx context.Context, blockID uint64, block []byte) error {
	envelope, err := Compress(r.codec, block)
	if err != nil {
		return err
	}
	if err := r.client.SetBytes(ctx, r.key(blockID), envelope, r.ttl); err != nil {
		return fmt.Errorf("redis set block %d: %w", blockID, err)
	}
	return nil
}
