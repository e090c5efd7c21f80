// ABOUTME: Thread-safe TTL cache for deduplicating tool-call request IDs.
// ABOUTME: The gateway rejects a request ID it has seen within the TTL window.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Default cache settings for the gateway's call path.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

// cacheEntry stores the timestamp and list element for a cached request ID.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks recently seen request IDs so a retried or replayed tool call
// is not dispatched twice. Entries expire after the TTL; when the cache is
// full the oldest entry is evicted. Insertion order lives in a doubly-linked
// list so eviction is O(1).
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // request IDs in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache. Non-positive ttl or maxSize fall back to the
// defaults. A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check returns true if the request ID has been seen and is not expired.
func (c *Cache) Check(requestID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[requestID]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// CheckAndMark atomically checks whether a request ID has been seen and marks
// it if not. Returns true for a duplicate, false if the ID is new and now
// marked. The single lock acquisition closes the race a separate Check and
// Mark would open.
func (c *Cache) CheckAndMark(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[requestID]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(requestID)
	return false
}

// Mark records that a request ID has been seen. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *Cache) Mark(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(requestID)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(requestID string) {
	now := time.Now()

	// Re-marking an existing ID refreshes its window
	if entry, exists := c.seen[requestID]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(requestID)
	c.seen[requestID] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	requestID, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, requestID)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for requestID, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, requestID)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
