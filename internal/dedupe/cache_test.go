// ABOUTME: Tests for the dedupe cache used to reject replayed turns.
// ABOUTME: Validates TTL expiry, size-bounded eviction, sweeping, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration, size int) (*Cache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string](ttl, size, 0)
	c.now = clock.Now
	return c, clock
}

func TestCache_AddReportsDuplicates(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("conv/msg"))
	assert.False(t, c.Add("conv/msg"), "first add is new")
	assert.True(t, c.Seen("conv/msg"))
	assert.True(t, c.Add("conv/msg"), "second add is a duplicate")
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Add("k")
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("k"))

	clock.Advance(time.Second)
	assert.False(t, c.Seen("k"))
	assert.False(t, c.Add("k"), "expired key can be added again")
	assert.Equal(t, 1, c.Len())
}

func TestCache_DuplicateAddKeepsOriginalAge(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Add("k")
	clock.Advance(40 * time.Second)
	assert.True(t, c.Add("k"))
	clock.Advance(30 * time.Second)
	assert.False(t, c.Seen("k"), "re-adding a live key does not extend it")
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	defer c.Close()

	for _, k := range []string{"a", "b", "c"} {
		c.Add(k)
		clock.Advance(time.Millisecond)
	}
	c.Add("d")

	assert.False(t, c.Seen("a"), "oldest key should be evicted")
	assert.True(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	c.Add("a")
	c.Forget("a")
	c.Forget("never-added")
	assert.False(t, c.Seen("a"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Add("old-1")
	c.Add("old-2")
	clock.Advance(2 * time.Minute)
	c.Add("fresh")

	c.Sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestCache_BackgroundSweeper(t *testing.T) {
	c := New[string](10*time.Millisecond, 10, 5*time.Millisecond)
	defer c.Close()

	c.Add("k")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](time.Minute, 10, time.Minute)
	c.Close()
	c.Close()
}

func TestCache_Concurrent(t *testing.T) {
	c := New[string](5*time.Minute, 1000, 0)
	defer c.Close()

	var wg sync.WaitGroup
	dups := make([]int, 50)
	for g := range 50 {
		wg.Go(func() {
			for j := range 100 {
				if c.Add(fmt.Sprintf("key-%d", j)) {
					dups[g]++
				}
			}
		})
	}
	wg.Wait()

	total := 0
	for _, d := range dups {
		total += d
	}
	assert.Equal(t, 50*100-100, total, "each key is new exactly once")
	assert.Equal(t, 100, c.Len())
}
