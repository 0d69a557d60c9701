package cache

import (
	"context"
	"testing"
)

func TestNoOpCacheAlwaysMisses(t *testing.T) {
	c := &NoOpCache{}
	ctx := context.Background()

	if err := c.SetCounts(ctx, SegmentCountsKey, map[string]int{"all": 10}); err != nil {
		t.Fatalf("SetCounts: %v", err)
	}

	counts, err := c.GetCounts(ctx, SegmentCountsKey)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts != nil {
		t.Errorf("counts = %v, want miss", counts)
	}

	if err := c.Invalidate(ctx, SegmentCountsKey); err != nil {
		t.Errorf("Invalidate: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
