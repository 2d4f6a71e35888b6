// ABOUTME: Thread-safe TTL window of recently finished keys, bounded in size
// ABOUTME: Used by the turn coordinator to reject replays of a completed client message id

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable] struct {
	key     K
	addedAt time.Time
}

// Cache remembers keys for a TTL, evicting the oldest entry when full.
// Insertion order is kept in a linked list so eviction is O(1).
type Cache[K comparable] struct {
	mu      sync.Mutex
	items   map[K]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache that forgets keys after ttl and holds at most maxSize
// of them. A background goroutine sweeps expired keys every sweep interval;
// a sweep of zero disables it. Call Close to stop the sweeper.
func New[K comparable](ttl time.Duration, maxSize int, sweep time.Duration) *Cache[K] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache[K]{
		items:   make(map[K]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweepLoop(sweep)
	}
	return c
}

// Seen reports whether key was added and has not expired.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	return ok && c.live(el)
}

// Add records key. It returns true when key was already present and live,
// in which case its age is left unchanged.
func (c *Cache[K]) Add(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		if c.live(el) {
			return true
		}
		c.order.Remove(el)
		delete(c.items, key)
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			delete(c.items, front.Value.(*entry[K]).key)
			c.order.Remove(front)
		}
	}

	c.items[key] = c.order.PushBack(&entry[K]{key: key, addedAt: c.now()})
	return false
}

// Forget drops key so it may be added again.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of stored keys, expired or not.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// live must be called with mu held.
func (c *Cache[K]) live(el *list.Element) bool {
	return c.now().Sub(el.Value.(*entry[K]).addedAt) < c.ttl
}

// Sweep removes every expired key. Entries are ordered by insertion, so the
// walk stops at the first live one.
func (c *Cache[K]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		if c.live(el) {
			return
		}
		next := el.Next()
		delete(c.items, el.Value.(*entry[K]).key)
		c.order.Remove(el)
		el = next
	}
}

func (c *Cache[K]) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache[K]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
