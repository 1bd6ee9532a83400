package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	// Default settings
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// CacheItem represents a cached item with expiration
type CacheItem[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the cache item has expired at the given moment
func (item *CacheItem[V]) IsExpired(now time.Time) bool {
	return now.After(item.ExpiresAt)
}

// CacheShard represents a single shard of the cache with its own lock
type CacheShard[V any] struct {
	mu    sync.RWMutex
	items map[string]*CacheItem[V]
}

// ShardedCache is a thread-safe sharded TTL cache. Reads extend the lifetime
// of an item, so entries expire after ttl without access.
type ShardedCache[V any] struct {
	shards          []*CacheShard[V]
	shardCount      int
	ttl             time.Duration
	cleanupInterval time.Duration
	onEvict         func(key string, value V)
	now             func() time.Time

	// Cleanup worker management
	cleanupWorkerRunning bool
	cleanupWorkerMu      sync.Mutex
	cleanupWorkerStop    chan struct{}
	cleanupWorkerWg      sync.WaitGroup
}

// NewShardedCache creates a new sharded cache; ttl is in seconds
func NewShardedCache[V any](shardCount int, ttl int) *ShardedCache[V] {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}

	ttlDuration := time.Duration(ttl) * time.Second
	if ttlDuration <= 0 {
		ttlDuration = defaultTTL
	}

	shards := make([]*CacheShard[V], shardCount)
	for i := range shards {
		shards[i] = &CacheShard[V]{
			items: make(map[string]*CacheItem[V]),
		}
	}

	return &ShardedCache[V]{
		shards:            shards,
		shardCount:        shardCount,
		ttl:               ttlDuration,
		cleanupInterval:   defaultCleanupInterval,
		now:               time.Now,
		cleanupWorkerStop: make(chan struct{}),
	}
}

// OnEvict registers a callback for items removed by Delete or expiry.
// Must be called before the cache is shared.
func (c *ShardedCache[V]) OnEvict(fn func(key string, value V)) {
	c.onEvict = fn
}

// getShard returns the shard for a given key using FNV hash
func (c *ShardedCache[V]) getShard(key string) *CacheShard[V] {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	shardIndex := hash.Sum32() % uint32(c.shardCount)
	return c.shards[shardIndex]
}

// Get retrieves a live value and extends its lifetime
func (c *ShardedCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	select {
	case <-ctx.Done():
		return zero, false
	default:
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	item, exists := shard.items[key]
	if !exists {
		return zero, false
	}

	now := c.now()
	if item.IsExpired(now) {
		// Left for the cleanup worker so OnEvict runs outside request paths.
		return zero, false
	}
	item.ExpiresAt = now.Add(c.ttl)

	return item.Value, true
}

// GetOrCreate returns the live value for key, storing create() when there is none.
// created reports whether create was called.
func (c *ShardedCache[V]) GetOrCreate(ctx context.Context, key string, create func() V) (value V, created bool, err error) {
	select {
	case <-ctx.Done():
		return value, false, ctx.Err()
	default:
	}

	shard := c.getShard(key)
	shard.mu.Lock()

	now := c.now()
	item, exists := shard.items[key]
	if exists && !item.IsExpired(now) {
		item.ExpiresAt = now.Add(c.ttl)
		shard.mu.Unlock()
		return item.Value, false, nil
	}

	value = create()
	shard.items[key] = &CacheItem[V]{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	shard.mu.Unlock()

	if exists {
		c.evict(key, item.Value)
	}
	return value, true, nil
}

// Delete removes a value from the cache by key
func (c *ShardedCache[V]) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	item, exists := shard.items[key]
	delete(shard.items, key)
	shard.mu.Unlock()

	if exists {
		c.evict(key, item.Value)
	}
	return nil
}

// CleanExpired removes all expired items from the cache
func (c *ShardedCache[V]) CleanExpired(ctx context.Context) error {
	for _, shard := range c.shards {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := c.now()
		var expired []string
		var values []V

		shard.mu.Lock()
		for key, item := range shard.items {
			if item.IsExpired(now) {
				expired = append(expired, key)
				values = append(values, item.Value)
				delete(shard.items, key)
			}
		}
		shard.mu.Unlock()

		for i, key := range expired {
			c.evict(key, values[i])
		}
	}
	return nil
}

func (c *ShardedCache[V]) evict(key string, value V) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}

// StartCleanupWorker starts a background goroutine that periodically removes expired items
func (c *ShardedCache[V]) StartCleanupWorker() {
	c.cleanupWorkerMu.Lock()
	defer c.cleanupWorkerMu.Unlock()

	if c.cleanupWorkerRunning {
		return // Already running
	}

	c.cleanupWorkerRunning = true
	c.cleanupWorkerStop = make(chan struct{})

	c.cleanupWorkerWg.Add(1)
	go c.cleanupWorker(c.cleanupWorkerStop)
}

// StopCleanupWorker stops the background cleanup worker gracefully
func (c *ShardedCache[V]) StopCleanupWorker() {
	c.cleanupWorkerMu.Lock()
	defer c.cleanupWorkerMu.Unlock()

	if !c.cleanupWorkerRunning {
		return // Not running
	}

	close(c.cleanupWorkerStop)
	c.cleanupWorkerWg.Wait()
	c.cleanupWorkerRunning = false
}

// cleanupWorker is the background goroutine that periodically cleans up expired items
func (c *ShardedCache[V]) cleanupWorker(stop <-chan struct{}) {
	defer c.cleanupWorkerWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			// Perform final cleanup before stopping
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
		}
	}
}

// Clear removes all items from the cache without calling OnEvict
func (c *ShardedCache[V]) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.items = make(map[string]*CacheItem[V])
		shard.mu.Unlock()
	}
}

// GetStats returns cache statistics
func (c *ShardedCache[V]) GetStats() CacheStats {
	stats := CacheStats{
		ShardCount: c.shardCount,
		TotalItems: 0,
		ShardStats: make([]ShardStat, c.shardCount),
	}

	now := c.now()
	for i, shard := range c.shards {
		shard.mu.RLock()
		itemCount := len(shard.items)
		expiredCount := 0
		for _, item := range shard.items {
			if item.IsExpired(now) {
				expiredCount++
			}
		}
		shard.mu.RUnlock()

		stats.ShardStats[i] = ShardStat{
			Index:        i,
			ItemCount:    itemCount,
			ExpiredCount: expiredCount,
		}
		stats.TotalItems += itemCount
	}

	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	ShardCount int         `json:"shard_count"`
	TotalItems int         `json:"total_items"`
	ShardStats []ShardStat `json:"-"`
}

// ShardStat represents statistics for a single shard
type ShardStat struct {
	Index        int
	ItemCount    int
	ExpiredCount int
}
