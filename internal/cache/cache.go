package cache

import "context"

// Cache stores computed segment counts so repeated dashboard reads do not
// re-scan the recipients table.
type Cache interface {
	GetCounts(ctx context.Context, key string) (map[string]int, error)
	SetCounts(ctx context.Context, key string, counts map[string]int) error
	Invalidate(ctx context.Context, key string) error
	Close() error
}

// SegmentCountsKey is the cache key for the per-segment recipient counts.
const SegmentCountsKey = "segment_counts"
