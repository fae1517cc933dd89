package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/00Mars/pet-pawket-sub000/internal/logger"
)

// Redis is a Cache backed by a go-redis client. Keys are namespaced so the
// services can share one database.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// Dial parses url, pings the server and returns a Redis cache.
func Dial(ctx context.Context, url, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb, namespace), nil
}

func NewRedis(rdb *redis.Client, namespace string) *Redis {
	if namespace != "" {
		namespace += ":"
	}
	return &Redis{rdb: rdb, namespace: namespace}
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := r.rdb.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.namespace+key, raw, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.namespace + k
	}
	return r.rdb.Del(ctx, full...).Err()
}

// DeletePrefix removes every key under prefix using SCAN, never KEYS.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	iter := r.rdb.Scan(ctx, 0, r.namespace+prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

func (r *Redis) Mode() string { return "redis" }

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Open returns a Redis cache for url, or Memory when url is empty or the
// server cannot be reached.
func Open(ctx context.Context, url, namespace string, log *logger.Logger) Cache {
	if strings.TrimSpace(url) == "" {
		return NewMemory()
	}
	r, err := Dial(ctx, url, namespace)
	if err != nil {
		if log == nil {
			log = logger.Nop()
		}
		log.With("namespace", namespace).Warn("redis unavailable, caching in memory", "error", err)
		return NewMemory()
	}
	return r
}
