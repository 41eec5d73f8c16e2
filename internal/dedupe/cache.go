// ABOUTME: TTL cache tracking already-applied change events
// ABOUTME: Guards the reconciler against redelivery by the realtime layer

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry records when a key was seen and where it sits in eviction order.
type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache is a thread-safe, TTL-based, size-bounded set of seen keys. Keys
// older than the TTL count as unseen again; when full, the oldest key is
// evicted. A background goroutine sweeps expired entries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically reports whether key was already seen within the
// TTL, marking it as seen either way. The single operation avoids a
// check-then-mark race between concurrent callers.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok && now.Sub(e.seenAt) < c.ttl {
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return true
	}

	if e, ok := c.entries[key]; ok {
		// Expired entry: refresh in place.
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return false
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{seenAt: now, elem: c.order.PushBack(key)}
	return false
}

// evictOldestLocked removes the oldest key. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// sweep periodically removes expired entries until Close.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) >= c.ttl {
			c.order.Remove(e.elem)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
