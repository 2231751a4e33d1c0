package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisScanCount = 500
	redisMGetBatch = 200
)

// RedisStore implements Store on Redis string keys. Every key is stored under
// namespace so the store can share a database with other applications.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, namespace: namespace}
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(url, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), namespace), nil
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := validate(key, value); err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.namespace+key, []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	b, err := r.rdb.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return json.RawMessage(b), nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.namespace+key).Err(); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	match := escapeGlob(r.namespace+prefix) + "*"

	var keys []string
	iter := r.rdb.Scan(ctx, 0, match, redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv prefix scan %q: %w", prefix, err)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += redisMGetBatch {
		end := min(start+redisMGetBatch, len(keys))
		vals, err := r.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("kv prefix fetch %q: %w", prefix, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue // deleted between SCAN and MGET
			}
			entries = append(entries, Entry{
				Key:   keys[start+i][len(r.namespace):],
				Value: json.RawMessage(s),
			})
		}
	}
	return entries, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) Kind() string { return KindRedis }
