// Package cache implements ContractSpecCache, a cache in front of the
// expensive Stellar getLedgerEntries contract-spec resolution (and, for
// symmetry, EVM ABI lookups), backed by Redis when REDIS_URL is configured
// and falling back to an in-process map otherwise. Grounded on the teacher's
// RedisService shape (internal/cache/redis.go).
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
)

// Stats mirrors the teacher's CacheStats shape (hits/misses + derived rate).
type Stats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns the fraction of lookups that were hits, or 0 with no data.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ContractSpecCache caches resolved models.ContractSpec values by
// "network_slug:address" key.
type ContractSpecCache struct {
	redis *redis.Client
	ttl   time.Duration

	mu       sync.Mutex
	inproc   map[string]models.ContractSpec
	hits     uint64
	misses   uint64
}

// NewRedis builds a Redis-backed cache.
func NewRedis(client *redis.Client, ttl time.Duration) *ContractSpecCache {
	return &ContractSpecCache{redis: client, ttl: ttl}
}

// NewInProcess builds a map-backed cache for when REDIS_URL is unset, with
// no eviction beyond process lifetime — acceptable because contract specs
// are small and bounded by the number of distinct addresses configured.
func NewInProcess() *ContractSpecCache {
	return &ContractSpecCache{inproc: map[string]models.ContractSpec{}}
}

func cacheKey(networkSlug, address string) string {
	return networkSlug + ":" + address
}

// Get returns the cached spec for (networkSlug, address), and false on a miss.
func (c *ContractSpecCache) Get(ctx context.Context, networkSlug, address string) (models.ContractSpec, bool, error) {
	key := cacheKey(networkSlug, address)

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Bytes()
		if err == redis.Nil {
			c.recordMiss()
			return models.ContractSpec{}, false, nil
		}
		if err != nil {
			return models.ContractSpec{}, false, appErrors.NewInternalError(err, "redis GET %s", key)
		}
		var spec models.ContractSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return models.ContractSpec{}, false, appErrors.NewInternalError(err, "unmarshal cached spec %s", key)
		}
		c.recordHit()
		return spec, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	spec, ok := c.inproc[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return spec, ok, nil
}

// Set stores spec for (networkSlug, address), with the configured TTL when
// Redis-backed.
func (c *ContractSpecCache) Set(ctx context.Context, networkSlug, address string, spec models.ContractSpec) error {
	key := cacheKey(networkSlug, address)

	if c.redis != nil {
		raw, err := json.Marshal(spec)
		if err != nil {
			return appErrors.NewInternalError(err, "marshal spec for cache %s", key)
		}
		if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return appErrors.NewInternalError(err, "redis SET %s", key)
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inproc[key] = spec
	return nil
}

func (c *ContractSpecCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *ContractSpecCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss counters.
func (c *ContractSpecCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
