package rag

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/9046balaji/Heart-sub001/internal/cache"

	"go.uber.org/zap"
)

// AssemblyCache stores assembled contexts by request key. Implementations
// must return values the caller may mutate.
type AssemblyCache interface {
	Get(ctx context.Context, key string) (*AssembledContext, bool)
	Set(ctx context.Context, key string, value *AssembledContext, ttl time.Duration)
}

// ============================================================================
// In-process TTL cache
// ============================================================================

// MemoryAssemblyCache is an in-process TTL cache with a size bound.
type MemoryAssemblyCache struct {
	entries    map[string]*assemblyEntry
	defaultTTL time.Duration
	maxEntries int
	mu         sync.RWMutex
	now        func() time.Time
}

type assemblyEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryAssemblyCache creates an in-process cache.
func NewMemoryAssemblyCache(defaultTTL time.Duration, maxEntries int) *MemoryAssemblyCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &MemoryAssemblyCache{
		entries:    make(map[string]*assemblyEntry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryAssemblyCache) Get(_ context.Context, key string) (*AssembledContext, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	var out AssembledContext
	if err := json.Unmarshal(entry.payload, &out); err != nil {
		return nil, false
	}
	return &out, true
}

func (c *MemoryAssemblyCache) Set(_ context.Context, key string, value *AssembledContext, ttl time.Duration) {
	if value == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxEntries {
			// Still full: drop everything rather than track recency here.
			c.entries = make(map[string]*assemblyEntry)
		}
	}
	c.entries[key] = &assemblyEntry{payload: payload, expiresAt: c.now().Add(ttl)}
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryAssemblyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryAssemblyCache) evictExpiredLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// ============================================================================
// Redis-backed cache
// ============================================================================

// CompressedJSONStore is the subset of cache.Manager used for assembly caching.
type CompressedJSONStore interface {
	GetCompressedJSON(ctx context.Context, key string, dest any) error
	SetCompressedJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisAssemblyCache stores assembled contexts in Redis as zstd-compressed JSON.
type RedisAssemblyCache struct {
	store  CompressedJSONStore
	prefix string
	logger *zap.Logger
}

// NewRedisAssemblyCache wraps a cache manager.
func NewRedisAssemblyCache(store CompressedJSONStore, prefix string, logger *zap.Logger) *RedisAssemblyCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "medrag:"
	}
	return &RedisAssemblyCache{
		store:  store,
		prefix: prefix,
		logger: logger.With(zap.String("component", "assembly_cache")),
	}
}

func (c *RedisAssemblyCache) Get(ctx context.Context, key string) (*AssembledContext, bool) {
	var out AssembledContext
	if err := c.store.GetCompressedJSON(ctx, c.prefix+key, &out); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("assembly cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return &out, true
}

func (c *RedisAssemblyCache) Set(ctx context.Context, key string, value *AssembledContext, ttl time.Duration) {
	if value == nil {
		return
	}
	if err := c.store.SetCompressedJSON(ctx, c.prefix+key, value, ttl); err != nil {
		c.logger.Warn("assembly cache write failed", zap.Error(err))
	}
}
