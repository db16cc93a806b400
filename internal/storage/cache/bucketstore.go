package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// putIfPresent writes a bucket entry only while the bucket is still listed,
// so a late refresh cannot resurrect a deleted bucket.
var putIfPresent = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// BucketStorage keeps cache buckets in Redis.
//
// Layout: a sorted set {prefix}buckets of bucket names scored by creation
// sequence, and one hash {prefix}bucket:{name} per bucket mapping request
// identity to a JSON response snapshot. HSET replaces a whole entry, which
// gives per-key atomicity.
type BucketStorage struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewBucketStorage(rdb redis.UniversalClient, prefix string) *BucketStorage {
	return &BucketStorage{rdb: rdb, prefix: prefix}
}

func (s *BucketStorage) namesKey() string {
	return s.prefix + "buckets"
}

func (s *BucketStorage) seqKey() string {
	return s.prefix + "buckets:seq"
}

func (s *BucketStorage) bucketKey(name string) string {
	return fmt.Sprintf("%sbucket:%s", s.prefix, name)
}

func (s *BucketStorage) Open(ctx context.Context, name string) (worker.Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis bucket sequence failed: %w", err)
		}
		if err := s.rdb.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
			return nil, fmt.Errorf("redis bucket create failed: %w", err)
		}
	}
	return &Bucket{storage: s, name: name}, nil
}

func (s *BucketStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.rdb.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis bucket lookup failed: %w", err)
	}
	return true, nil
}

func (s *BucketStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.rdb.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis bucket list failed: %w", err)
	}
	return names, nil
}

func (s *BucketStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.bucketKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis bucket delete failed: %w", err)
	}
	return removed.Val() > 0, nil
}

// Bucket is a handle on one Redis-backed bucket.
type Bucket struct {
	storage *BucketStorage
	name    string
}

func (b *Bucket) Match(ctx context.Context, req *worker.Request) (*worker.Response, bool, error) {
	raw, err := b.storage.rdb.HGet(ctx, b.storage.bucketKey(b.name), req.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis entry read failed: %w", err)
	}
	var resp worker.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %q: %w", req.Key(), err)
	}
	return &resp, true, nil
}

func (b *Bucket) Put(ctx context.Context, req *worker.Request, resp *worker.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	keys := []string{b.storage.namesKey(), b.storage.bucketKey(b.name)}
	written, err := putIfPresent.Run(ctx, b.storage.rdb, keys, b.name, req.Key(), raw).Int()
	if err != nil {
		return fmt.Errorf("redis entry write failed: %w", err)
	}
	if written == 0 {
		return worker.ErrBucketDeleted
	}
	return nil
}

func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.storage.rdb.HKeys(ctx, b.storage.bucketKey(b.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis entry list failed: %w", err)
	}
	return keys, nil
}
