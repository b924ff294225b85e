package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_FollowsWallTime(t *testing.T) {
	c := NewClock()
	now := time.UnixMilli(1_700_000_000_000)

	assert.Equal(t, int64(1_700_000_000_000), c.Next(now))
	assert.Equal(t, int64(1_700_000_000_500), c.Next(now.Add(500*time.Millisecond)))
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	c := NewClock()
	now := time.UnixMilli(1_000)

	assert.Equal(t, int64(1_000), c.Next(now))
	assert.Equal(t, int64(1_001), c.Next(now), "same millisecond is bumped")
	assert.Equal(t, int64(1_002), c.Next(now.Add(-time.Second)), "wall clock going backwards is bumped")
	assert.Equal(t, int64(1_003), c.Next(time.UnixMilli(10)))
}

func TestClock_ConcurrentUnique(t *testing.T) {
	c := NewClock()
	now := time.UnixMilli(1)

	const n = 200
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Next(now)
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for e := range results {
		assert.False(t, seen[e], "epoch %d issued twice", e)
		seen[e] = true
	}
	assert.Len(t, seen, n)
}
