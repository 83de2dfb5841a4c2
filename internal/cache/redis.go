package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "llmcache:"

// RedisBackend shares the response cache across processes. Entries use
// Redis-native expiry, so Sweep is a no-op and the FIFO bound does not
// apply; Redis maxmemory policy bounds the footprint instead.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client. The caller owns the client
// lifecycle.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry; drop it rather than serving garbage.
		_ = r.client.Del(ctx, redisKeyPrefix+key).Err()
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}

	// Bump the stored hit counter, keeping the remaining expiry.
	// Best-effort: a failed rewrite only loses the count.
	entry.Hits++
	if updated, err := json.Marshal(&entry); err == nil {
		_ = r.client.Set(ctx, redisKeyPrefix+key, updated, redis.KeepTTL).Err()
	}
	return &entry, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+entry.Key, data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisBackend) DeleteByProvider(ctx context.Context, provider string) (int, error) {
	return r.deleteByPattern(ctx, redisKeyPrefix+provider+":*")
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	_, err := r.deleteByPattern(ctx, redisKeyPrefix+"*")
	return err
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	var count int
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return count, nil
}

// Sweep is a no-op: Redis expires entries natively.
func (r *RedisBackend) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisBackend) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
