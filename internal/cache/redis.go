package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache backs the segment counts cache with Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) GetCounts(ctx context.Context, key string) (map[string]int, error) {
	data, err := r.client.Get(ctx, "notifier:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, err
	}

	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *RedisCache) SetCounts(ctx context.Context, key string, counts map[string]int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "notifier:"+key, data, r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	return r.client.Del(ctx, "notifier:"+key).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
