package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/sketchgo/resource"
)

// LRU is a BlockCache with least-recently-used eviction and a byte capacity.
// Cached bytes are optionally reserved against a resource.Controller so the
// cache competes with sketch backing arrays for the same budget.
type LRU struct {
	mu         sync.Mutex
	capacity   int64
	size       int64
	items      map[Key]*list.Element
	evictList  *list.List
	controller *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates a cache holding up to capacity bytes. controller may be nil.
func NewLRU(capacity int64, controller *resource.Controller) *LRU {
	return &LRU{
		capacity:   capacity,
		items:      make(map[Key]*list.Element),
		evictList:  list.New(),
		controller: controller,
	}
}

func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(elem)
		return elem.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *LRU) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		oldSize, newSize := int64(len(ent.value)), int64(len(b))
		if newSize > oldSize {
			if err := c.controller.ReserveMemory(newSize - oldSize); err != nil {
				return
			}
		} else {
			c.controller.ReleaseMemory(oldSize - newSize)
		}
		c.size += newSize - oldSize
		ent.value = b
		c.evictList.MoveToFront(elem)
		c.evictOverflow()
		return
	}

	itemSize := int64(len(b))
	if itemSize > c.capacity {
		return
	}

	// Evict before reserving so released bytes can satisfy the reservation.
	for c.size+itemSize > c.capacity {
		elem := c.evictList.Back()
		if elem == nil {
			break
		}
		c.removeElement(elem)
	}

	if err := c.controller.ReserveMemory(itemSize); err != nil {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: b})
	c.size += itemSize
}

func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for key, elem := range c.items {
		if predicate(key) {
			victims = append(victims, elem)
		}
	}
	for _, elem := range victims {
		c.removeElement(elem)
	}
}

func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
	return nil
}

func (c *LRU) evictOverflow() {
	for c.size > c.capacity && c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
}

func (c *LRU) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	itemSize := int64(len(ent.value))
	c.size -= itemSize
	c.controller.ReleaseMemory(itemSize)
}
