package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/idb/internal/resource"
)

// LRU is a least-recently-used cache bounded by the summed cost of its entries.
// Byte-bounded caches use the value size as cost; count-bounded caches use 1.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	cost      func(V) int64
	rc        *resource.Controller
	// charge is true when entry costs are bytes that count against rc.
	charge bool

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// NewLRU creates a cache holding entries up to a total cost of capacity.
// A capacity <= 0 disables the cache. If rc is provided and charge is true,
// entry costs are reserved from it as bytes.
func NewLRU[K comparable, V any](capacity int64, cost func(V) int64, rc *resource.Controller, charge bool) *LRU[K, V] {
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		cost:      cost,
		rc:        rc,
		charge:    charge && rc != nil,
	}
}

// Get returns a cached value.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches a value, evicting older entries to make room.
// Values costing more than the capacity are not cached.
func (c *LRU[K, V]) Set(key K, value V) {
	if c.capacity <= 0 {
		return
	}
	itemCost := c.cost(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	if itemCost > c.capacity {
		return
	}

	for c.size+itemCost > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	// The shared memory budget wins over the local capacity.
	if c.charge && !c.rc.TryAcquireMemory(itemCost) {
		return
	}

	el := c.evictList.PushFront(&entry[K, V]{key: key, value: value, cost: itemCost})
	c.items[key] = el
	c.size += itemCost
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Invalidate removes entries matching the predicate.
func (c *LRU[K, V]) Invalidate(predicate func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, el := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.evictList.Back(); el != nil; el = c.evictList.Back() {
		c.removeElement(el)
	}
}

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the summed cost of the cached entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured capacity.
func (c *LRU[K, V]) Capacity() int64 {
	return c.capacity
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.cost
	if c.charge {
		c.rc.ReleaseMemory(ent.cost)
	}
}
