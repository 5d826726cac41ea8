package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/constants"
)

// Cache stores fetched metadata documents keyed by normalized URL.
// Implementations must be safe for concurrent use. A failing cache behaves
// like a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// ------------------------------------------------------------------------------

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used when Redis is not configured.
// Expired entries are swept by Set at most once per TTL, and the cache
// never holds more than maxEntries documents.
type MemoryCache struct {
	items      map[string]memoryItem
	ttl        time.Duration
	maxEntries int
	lastSweep  time.Time
	now        func() time.Time
	mutex      sync.RWMutex
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items:      make(map[string]memoryItem),
		ttl:        ttl,
		maxEntries: constants.MemoryCacheMaxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mutex.RLock()
	item, ok := c.items[key]
	c.mutex.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().After(item.expiresAt) {
		c.mutex.Lock()
		delete(c.items, key)
		c.mutex.Unlock()
		return nil, false
	}
	return item.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if c.ttl > 0 && now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.items) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.items[key] = memoryItem{value: value, expiresAt: now.Add(c.ttl)}
}

// sweepLocked drops expired entries. The caller holds the write lock.
func (c *MemoryCache) sweepLocked(now time.Time) {
	c.lastSweep = now
	if c.ttl <= 0 {
		return
	}
	for k, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, k)
		}
	}
}

// evictOldestLocked drops the entry closest to expiry, which is the one
// stored first. The caller holds the write lock.
func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, item := range c.items {
		if !found || item.expiresAt.Before(oldest) {
			oldestKey, oldest, found = k, item.expiresAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}

// Len returns the number of cached documents, expired ones included.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// ------------------------------------------------------------------------------

// RedisCache shares fetched documents between processes.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, namespace: namespace, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(k string) string {
	return fmt.Sprintf("%s:metadata:%s", c.namespace, k)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("metadata cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		c.logger.Warn("metadata cache write failed", zap.String("key", key), zap.Error(err))
	}
}
