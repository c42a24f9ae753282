package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
)

// Redis key layout, mirroring the on-disk layout.
const (
	RedisKeyPrefix        = "mensa:"
	RedisKeyIndexPrefix   = RedisKeyPrefix + "index:"
	RedisKeyContentPrefix = RedisKeyPrefix + "content:"

	redisScanCount = 100
)

// RedisStore keeps entries in Redis so several processes can share one cache.
// Like the other backends it never sets a Redis TTL: staleness only
// triggers revalidation.
//
// As with DiskStore, content keys replaced by an overwrite are not deleted
// and stay readable through older entries until Clear.
type RedisStore struct {
	redis *redis.Client
	now   func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(redisClient *redis.Client, opts ...Option) (*RedisStore, error) {
	if redisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	o := buildOptions(opts)
	return &RedisStore{
		redis: redisClient,
		now:   o.now,
	}, nil
}

// Write implements Store. Content and index are set in one transaction.
func (s *RedisStore) Write(ctx context.Context, key string, metadata any, payload string) error {
	entry, err := newEntry(key, metadata, payload, s.now())
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return err
	}
	indexData, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return &WriteError{Key: key, Op: "serialize entry", Err: err}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, RedisKeyContentPrefix+entry.Integrity, payload, 0)
		pipe.Set(ctx, RedisKeyIndexPrefix+key, indexData, 0)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return &WriteError{Key: key, Op: "redis set", Err: err}
	}

	recordWrite("redis", entry.Size)
	return nil
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, entry *Entry) (string, error) {
	if entry == nil {
		return "", &ReadError{Op: "content", Err: ErrMissingContent}
	}

	data, err := s.redis.Get(ctx, RedisKeyContentPrefix+entry.Integrity).Bytes()
	if err != nil {
		CacheErrors.WithLabelValues("read").Inc()
		if errors.Is(err, redis.Nil) {
			return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrMissingContent}
		}
		return "", &ReadError{Key: entry.Key, Op: "redis get", Err: err}
	}
	if integrityOf(data) != entry.Integrity {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrCorrupted}
	}
	if !utf8.Valid(data) {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &DecodingError{Key: entry.Key}
	}
	return string(data), nil
}

// Metadata implements Store.
func (s *RedisStore) Metadata(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.Get(ctx, RedisKeyIndexPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		CacheErrors.WithLabelValues("metadata").Inc()
		return nil, &ReadError{Key: key, Op: "redis get", Err: err}
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("metadata").Inc()
		return nil, &ReadError{Key: key, Op: "metadata", Err: fmt.Errorf("unmarshal entry: %w", err)}
	}
	return &entry, nil
}

// Clear implements Store. Only keys under RedisKeyPrefix are removed.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, RedisKeyPrefix+"*", redisScanCount).Result()
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				CacheErrors.WithLabelValues("clear").Inc()
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// List implements Store. Entries are fetched page by page while scanning.
func (s *RedisStore) List(ctx context.Context) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		var cursor uint64
		for {
			keys, next, err := s.redis.Scan(ctx, cursor, RedisKeyIndexPrefix+"*", redisScanCount).Result()
			if err != nil {
				CacheErrors.WithLabelValues("list").Inc()
				yield(nil, &ReadError{Op: "redis scan", Err: err})
				return
			}
			for _, redisKey := range keys {
				entry, err := s.Metadata(ctx, strings.TrimPrefix(redisKey, RedisKeyIndexPrefix))
				if err == nil && entry == nil {
					continue
				}
				if !yield(entry, err) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}
