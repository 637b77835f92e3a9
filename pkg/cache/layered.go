package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultCleanupInterval is how often expired memory entries are purged.
const DefaultCleanupInterval = 10 * time.Minute

// Layered puts an in-process memory layer in front of the Redis manager.
//
// Memory entries live for at most memoryTTL and never past the response's
// own expiry. They are served without revalidation; Redis entries are
// revalidated by the client with a conditional request. With a nil Redis
// client only the memory layer is used.
type Layered struct {
	memory    *gocache.Cache
	memoryTTL time.Duration
	redis     *Manager
}

// NewLayered creates a layered cache. A memoryTTL <= 0 disables the memory layer.
func NewLayered(redisClient *redis.Client, memoryTTL time.Duration) *Layered {
	l := &Layered{memoryTTL: memoryTTL}
	if memoryTTL > 0 {
		l.memory = gocache.New(memoryTTL, DefaultCleanupInterval)
	}
	if redisClient != nil {
		l.redis = NewManager(redisClient)
	}
	return l
}

// Get returns the freshest entry for key and the layer it came from.
// Returns ErrCacheMiss when neither layer holds a live entry. Misses are
// counted per layer consulted.
func (l *Layered) Get(ctx context.Context, key CacheKey) (*CacheEntry, string, error) {
	if l.memory != nil {
		if v, ok := l.memory.Get(key.String()); ok {
			if entry, ok := v.(*CacheEntry); ok && !entry.IsExpired() {
				CacheHits.WithLabelValues(LayerMemory).Inc()
				return entry, LayerMemory, nil
			}
		}
		CacheMisses.WithLabelValues(LayerMemory).Inc()
	}

	if l.redis != nil {
		entry, err := l.redis.Get(ctx, key)
		if err == nil {
			CacheHits.WithLabelValues(LayerRedis).Inc()
			return entry, LayerRedis, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, "", err
		}
	}

	return nil, "", ErrCacheMiss
}

// Set stores entry in every layer.
func (l *Layered) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	l.setMemory(key, entry)
	if l.redis != nil {
		return l.redis.Set(ctx, key, entry)
	}
	return nil
}

// UpdateTTL moves the expiry of key in every layer.
func (l *Layered) UpdateTTL(ctx context.Context, key CacheKey, entry *CacheEntry, newExpires time.Time) error {
	updated := *entry
	updated.Expires = newExpires
	l.setMemory(key, &updated)

	if l.redis != nil {
		return l.redis.Refresh(ctx, key, entry, newExpires)
	}
	return nil
}

// Delete removes key from every layer.
func (l *Layered) Delete(ctx context.Context, key CacheKey) error {
	if l.memory != nil {
		l.memory.Delete(key.String())
	}
	if l.redis != nil {
		return l.redis.Delete(ctx, key)
	}
	return nil
}

// Flush empties the memory layer.
func (l *Layered) Flush() {
	if l.memory != nil {
		l.memory.Flush()
	}
}

func (l *Layered) setMemory(key CacheKey, entry *CacheEntry) {
	if l.memory == nil || entry == nil {
		return
	}
	ttl := min(entry.TTL(), l.memoryTTL)
	if ttl <= 0 {
		return
	}
	l.memory.Set(key.String(), entry, ttl)
	CacheWrittenBytes.WithLabelValues(LayerMemory).Add(float64(len(entry.Data)))
}
