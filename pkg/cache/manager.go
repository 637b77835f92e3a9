package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no live response is cached under the key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a cached response could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager is the shared Redis layer of the response cache. Every gallery
// process pointed at the same Redis sees the listings and artwork records
// the others fetched, together with their validators for revalidation.
type Manager struct {
	redis *redis.Client
}

// NewManager creates the Redis layer. It panics on a nil client.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{redis: redisClient}
}

// Get returns the response cached under key. A missing or expired entry is
// ErrCacheMiss and counts as a redis-layer miss. An entry that no longer
// decodes is removed and reported as ErrInvalidEntry, so the next fetch
// stores a clean copy.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(LayerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", key.Endpoint, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		_ = m.Delete(ctx, key)
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key.Endpoint, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(LayerRedis).Inc()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores entry until its Expires time. Entries already past it are
// skipped.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	return m.store(ctx, key, entry)
}

// Delete removes the response cached under key.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del %s: %w", key.Endpoint, err)
	}
	return nil
}

// Refresh rewrites entry, the response the caller revalidated, with a new
// expiry. The upstream answered 304 for it, so its body and validators are
// current; a newExpires that is already past removes the key instead.
func (m *Manager) Refresh(ctx context.Context, key CacheKey, entry *CacheEntry, newExpires time.Time) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	refreshed := *entry
	refreshed.Expires = newExpires
	if refreshed.IsExpired() {
		return m.Delete(ctx, key)
	}
	return m.store(ctx, key, &refreshed)
}

func (m *Manager) store(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", key.Endpoint, err)
	}

	CacheWrittenBytes.WithLabelValues(LayerRedis).Add(float64(len(data)))
	return nil
}
