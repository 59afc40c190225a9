package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// memoKeyPrefixLen bounds how much of a query participates in the memo key.
const memoKeyPrefixLen = 100

// memoKey hashes the lowercased, trimmed, truncated query.
func memoKey(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if r := []rune(q); len(r) > memoKeyPrefixLen {
		q = string(r[:memoKeyPrefixLen])
	}
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:16])
}

// lruCache is a bounded, concurrency-safe least-recently-used map.
type lruCache[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode[V]
	head     *lruNode[V] // most recently used
	tail     *lruNode[V] // least recently used
}

type lruNode[V any] struct {
	key   string
	value V
	prev  *lruNode[V]
	next  *lruNode[V]
}

func newLRUCache[V any](capacity int) *lruCache[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &lruCache[V]{
		capacity: capacity,
		items:    make(map[string]*lruNode[V], capacity),
	}
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToHead(node)
	return node.value, true
}

func (c *lruCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.value = value
		c.moveToHead(node)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictTail()
	}
	node := &lruNode[V]{key: key, value: value}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache[V]) addToHead(node *lruNode[V]) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache[V]) removeNode(node *lruNode[V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *lruCache[V]) moveToHead(node *lruNode[V]) {
	if c.head == node {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.removeNode(victim)
	delete(c.items, victim.key)
}
