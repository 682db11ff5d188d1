package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a size-bounded TTL cache with LRU-by-access eviction. Every Get
// that returns a value touches the entry; when Set would exceed maxSize with
// a new key, the least recently touched entry is evicted first. Expired
// entries are removed on access and by the periodic sweep.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently touched
	ttl     time.Duration
	maxSize int

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	sweepStop chan struct{}
	destroyed bool
	stopOnce  sync.Once

	now func() time.Time
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int    `json:"size"`
	MaxSize     int    `json:"maxSize"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// New creates a cache without a background sweep. Expired entries are still
// removed on access; call Cleanup manually if bulk removal is needed.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// NewWithSweep creates a cache and starts a background goroutine that sweeps
// expired entries every interval. The owner must call Destroy on teardown or
// the sweeper leaks.
func NewWithSweep[V any](ttl time.Duration, maxSize int, interval time.Duration) *Cache[V] {
	c := New[V](ttl, maxSize)
	c.sweepStop = make(chan struct{})
	go c.sweepLoop(interval)
	return c
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Get returns the value for key if present and not expired. Expired entries
// are deleted on access. A hit moves the entry to the front of the LRU order.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set inserts or overwrites the entry for key with a fresh storedAt. When the
// cache is at capacity and key is new, the least recently touched entry is
// evicted first. Always succeeds.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.evictions++
		}
	}
	el := c.order.PushFront(&entry[V]{key: key, value: value, storedAt: c.now()})
	c.entries[key] = el
}

// Delete removes the entry for key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Cleanup removes every expired entry. Called by the background sweep and
// safe to call manually.
func (c *Cache[V]) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.removeLocked(el)
			c.expirations++
		}
		el = prev
	}
}

// Clear removes all entries immediately.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the current number of entries, including any not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Destroy stops the background sweep and clears all entries. Idempotent;
// a destroyed cache accepts no further writes.
func (c *Cache[V]) Destroy() {
	c.stopOnce.Do(func() {
		if c.sweepStop != nil {
			close(c.sweepStop)
		}
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return c.now().Sub(e.storedAt) > c.ttl
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.entries, e.key)
}
