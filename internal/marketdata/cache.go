package marketdata

import (
	"container/list"
	"sync"
	"time"
)

// QuoteCache memoizes the last good quote per symbol for a bounded lifetime.
// An expired entry is indistinguishable from an absent one, and a read never
// extends an entry's TTL: stale option prices are a correctness hazard, not a
// performance one.
type QuoteCache interface {
	Get(symbol string) (Quote, bool)
	Put(symbol string, q Quote, ttl time.Duration)
	Invalidate(symbol string)
}

type memoryEntry struct {
	symbol     string
	quote      Quote
	insertedAt time.Time
	ttl        time.Duration
}

// MemoryCache is a bounded in-process QuoteCache with LRU eviction.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

// NewMemoryCache creates a cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the live quote for symbol. Expired entries are removed and
// reported as absent; recency is updated but the TTL is not.
func (c *MemoryCache) Get(symbol string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[symbol]
	if !ok {
		return Quote{}, false
	}
	ent := elem.Value.(*memoryEntry)
	if c.now().Sub(ent.insertedAt) >= ent.ttl {
		c.removeLocked(elem)
		return Quote{}, false
	}
	c.order.MoveToFront(elem)
	return ent.quote, true
}

// Put inserts or replaces the quote for symbol, evicting the least recently
// used entry when the cache is full.
func (c *MemoryCache) Put(symbol string, q Quote, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[symbol]; ok {
		ent := elem.Value.(*memoryEntry)
		ent.quote = q
		ent.insertedAt = c.now()
		ent.ttl = ttl
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	ent := &memoryEntry{symbol: symbol, quote: q, insertedAt: c.now(), ttl: ttl}
	c.entries[symbol] = c.order.PushFront(ent)
}

// Invalidate drops the entry for symbol if present.
func (c *MemoryCache) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[symbol]; ok {
		c.removeLocked(elem)
	}
}

// Len reports the number of live and not-yet-collected entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*memoryEntry)
	delete(c.entries, ent.symbol)
	c.order.Remove(elem)
}
