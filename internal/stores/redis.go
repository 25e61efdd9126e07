package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the key-value handle.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis creates a client for a redis:// URL.
func OpenRedis(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Kind implements Handle.
func (r *RedisStore) Kind() Kind { return KindRedis }

// Ping implements Handle.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Handle.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Set stores value under key without expiry.
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Get reads key.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// ZAdd adds members to the sorted set and returns how many were new.
func (r *RedisStore) ZAdd(ctx context.Context, key string, members ...ScoredMember) (int64, error) {
	zs := make([]redis.Z, 0, len(members))
	for _, m := range members {
		zs = append(zs, redis.Z{Score: m.Score, Member: m.Member})
	}
	return r.client.ZAdd(ctx, key, zs...).Result()
}
