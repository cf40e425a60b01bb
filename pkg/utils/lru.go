package utils

import (
	"container/list"
	"sync"
)

// An item tracked by the LRU cache.
type LRUItem interface {
	Key() string
	Size() int64
}

// EvictFunc is called when an item is evicted from the cache.
// Return false to keep the item in the cache despite eviction.
type EvictFunc[E LRUItem] func(item E) bool

// LRU is a size bounded cache of items.
// The least recently used items are evicted when the total size
// of the cached items exceeds the maximum size.
type LRU[E LRUItem] struct {
	mu sync.Mutex

	// The maximum total size in bytes. Zero means unbounded.
	maxSize int64

	// Current total size of the cached items.
	currentSize int64

	// Doubly-linked list of items, most recently used first.
	cacheList *list.List

	// Map from item key to list element.
	cacheMap map[string]*list.Element

	// Function to call when an item is evicted.
	onEvict EvictFunc[E]
}

// Creates a new LRU cache.
func NewLRU[E LRUItem](maxSize int64, onEvict EvictFunc[E]) *LRU[E] {
	return &LRU[E]{
		maxSize:   maxSize,
		cacheList: list.New(),
		cacheMap:  make(map[string]*list.Element),
		onEvict:   onEvict,
	}
}

// Add a new item to the cache.
func (lru *LRU[E]) Add(item E) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ee, ok := lru.cacheMap[item.Key()]; ok {
		lru.cacheList.MoveToFront(ee)
		ee.Value = item
		return
	}

	ele := lru.cacheList.PushFront(item)
	lru.cacheMap[item.Key()] = ele
	lru.currentSize += item.Size()

	for lru.maxSize > 0 && lru.currentSize > lru.maxSize {
		if !lru.removeOldest() {
			break
		}
	}
}

// Get an item from the cache, marking it as recently used.
func (lru *LRU[E]) Get(key string) (item E, ok bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.cacheMap[key]; hit {
		lru.cacheList.MoveToFront(ele)
		return ele.Value.(E), true
	}
	return
}

// Remove an item from the cache.
func (lru *LRU[E]) Remove(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.cacheMap[key]; hit {
		lru.removeElement(ele)
	}
}

// Size returns the current total size of the cached items.
func (lru *LRU[E]) Size() int64 {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.currentSize
}

// Count returns the number of cached items.
func (lru *LRU[E]) Count() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.cacheList.Len()
}

func (lru *LRU[E]) removeOldest() bool {
	ele := lru.cacheList.Back()
	if ele == nil {
		return false
	}

	if lru.onEvict != nil && !lru.onEvict(ele.Value.(E)) {
		return false
	}

	lru.removeElement(ele)
	return true
}

func (lru *LRU[E]) removeElement(e *list.Element) {
	lru.cacheList.Remove(e)
	kv := e.Value.(E)
	delete(lru.cacheMap, kv.Key())
	lru.currentSize -= kv.Size()
}
