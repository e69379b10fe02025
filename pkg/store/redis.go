package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/bookmark-importer/pkg/timeline"
	"github.com/redis/go-redis/v9"
)

// Redis keys for the persisted collection.
const (
	RedisKeyCollection = "bookmarks:collection"
	RedisKeyTotal      = "bookmarks:total"
)

// maxAppendRetries bounds optimistic-lock retries when another writer
// touches the collection between read and write.
const maxAppendRetries = 3

// RedisStore persists the collection as one JSON value in Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store with Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) ([]timeline.ItemRecord, error) {
	items, err := s.load(ctx, s.redis)
	if err != nil {
		storeErrorsTotal.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return items, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, r getter) ([]timeline.ItemRecord, error) {
	data, err := r.Get(ctx, RedisKeyCollection).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []timeline.ItemRecord{}, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var items []timeline.ItemRecord
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal collection: %w", err)
	}
	return items, nil
}

// Append implements Store. The read-merge-write is guarded by WATCH so a
// concurrent writer aborts the transaction instead of losing items.
func (s *RedisStore) Append(ctx context.Context, items []timeline.ItemRecord) (int, error) {
	var total int

	txf := func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx)
		if err != nil {
			return err
		}

		merged := append(existing, items...)
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal collection: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, RedisKeyCollection, data, 0)
			pipe.Set(ctx, RedisKeyTotal, len(merged), 0)
			return nil
		})
		if err != nil {
			return err
		}

		total = len(merged)
		return nil
	}

	var err error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		err = s.redis.Watch(ctx, txf, RedisKeyCollection)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		storeErrorsTotal.WithLabelValues("append").Inc()
		return 0, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	itemsImportedTotal.Add(float64(len(items)))
	return total, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, RedisKeyCollection, RedisKeyTotal).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("clear").Inc()
		return fmt.Errorf("%w: redis del: %w", ErrStoreWrite, err)
	}
	return nil
}

// Total implements Store.
func (s *RedisStore) Total(ctx context.Context) (int, error) {
	total, err := s.redis.Get(ctx, RedisKeyTotal).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: redis get total: %w", ErrStoreRead, err)
	}
	return total, nil
}
