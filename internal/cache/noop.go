package cache

import "context"

// NoOpCache is used when Redis is not configured; every read is a miss.
type NoOpCache struct{}

func (n *NoOpCache) GetCounts(ctx context.Context, key string) (map[string]int, error) {
	return nil, nil
}

func (n *NoOpCache) SetCounts(ctx context.Context, key string, counts map[string]int) error {
	return nil
}

func (n *NoOpCache) Invalidate(ctx context.Context, key string) error {
	return nil
}

func (n *NoOpCache) Close() error {
	return nil
}
