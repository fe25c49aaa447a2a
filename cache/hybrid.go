package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
)

// Key builds the cache key for a content type and logical identifier.
func Key(ct core.ContentType, id string) string {
	return string(ct) + ":" + id
}

// TagStats holds per-content-type counters.
type TagStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Ops     int64   `json:"total_operations"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	PerTag         map[core.ContentType]TagStats `json:"per_tag"`
	FastKeys       int                           `json:"fast_tier_keys"`
	MemoryEstimate int64                         `json:"memory_bytes"`
	SlowConnected  bool                          `json:"slow_tier_connected"`
	OverallHealthy bool                          `json:"overall_healthy"`
}

// HybridCache coordinates the fast and slow tiers under the configured
// strategy. In hybrid mode reads consult fast then slow, a slow hit
// repopulates fast within the same operation, and writes go to both.
// Concurrent writes for one key are coalesced: last write wins, readers
// never observe a torn value.
type HybridCache struct {
	strategy core.CacheStrategy
	fast     *MemoryTier
	slow     *RedisTier
	policies map[core.ContentType]core.ContentTypePolicy
	logger   core.Logger

	// Per-key write serialization.
	keyLocks sync.Map // map[string]*sync.Mutex

	statsMu sync.Mutex
	tags    map[core.ContentType]*TagStats
}

// Options configures the hybrid cache.
type Options struct {
	Strategy core.CacheStrategy
	Fast     *MemoryTier
	Slow     *RedisTier
	Policies map[core.ContentType]core.ContentTypePolicy
	Logger   core.Logger
}

// New creates the cache. Fast is required except for redis-only; slow
// is required for redis-only and hybrid.
func New(opts Options) (*HybridCache, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	switch opts.Strategy {
	case core.CacheStrategyMemoryOnly:
		if opts.Fast == nil {
			return nil, fmt.Errorf("memory-only cache requires a fast tier: %w", core.ErrInvalidConfiguration)
		}
	case core.CacheStrategyRedisOnly:
		if opts.Slow == nil {
			return nil, fmt.Errorf("redis-only cache requires a slow tier: %w", core.ErrInvalidConfiguration)
		}
	case core.CacheStrategyHybrid:
		if opts.Fast == nil || opts.Slow == nil {
			return nil, fmt.Errorf("hybrid cache requires both tiers: %w", core.ErrInvalidConfiguration)
		}
	default:
		return nil, fmt.Errorf("unknown cache strategy %q: %w", opts.Strategy, core.ErrInvalidConfiguration)
	}

	tags := make(map[core.ContentType]*TagStats, len(core.ContentTypes()))
	for _, ct := range core.ContentTypes() {
		tags[ct] = &TagStats{}
	}

	return &HybridCache{
		strategy: opts.Strategy,
		fast:     opts.Fast,
		slow:     opts.Slow,
		policies: opts.Policies,
		logger:   opts.Logger,
		tags:     tags,
	}, nil
}

// TTL returns the effective TTL for a content type.
func (c *HybridCache) TTL(ct core.ContentType) time.Duration {
	if p, ok := c.policies[ct]; ok && p.TTLSeconds > 0 {
		return p.TTL()
	}
	return 5 * time.Minute
}

// WarmupTags lists content types flagged for startup preloading.
func (c *HybridCache) WarmupTags() []core.ContentType {
	var out []core.ContentType
	for _, ct := range core.ContentTypes() {
		if p, ok := c.policies[ct]; ok && p.Warmup {
			out = append(out, ct)
		}
	}
	return out
}

// Get retrieves a serialized payload. In hybrid mode a slow-tier hit
// repopulates the fast tier with the tag's TTL before returning.
func (c *HybridCache) Get(ctx context.Context, ct core.ContentType, id string) (string, bool) {
	key := Key(ct, id)

	if c.strategy != core.CacheStrategyRedisOnly {
		if val, ok, _ := c.fast.Get(ctx, key); ok {
			c.count(ct, true)
			return val, true
		}
	}

	if c.strategy != core.CacheStrategyMemoryOnly {
		val, ok, err := c.slow.Get(ctx, key)
		if err == nil && ok {
			if c.strategy == core.CacheStrategyHybrid {
				// Repopulate fast within the same operation.
				_ = c.fast.Set(ctx, key, val, c.TTL(ct))
			}
			c.count(ct, true)
			return val, true
		}
	}

	c.count(ct, false)
	return "", false
}

// Set stores a serialized payload in every configured tier. A
// slow-tier failure degrades silently; the fast tier has no hard
// dependency on the slow tier.
func (c *HybridCache) Set(ctx context.Context, ct core.ContentType, id string, value string) {
	key := Key(ct, id)
	ttl := c.TTL(ct)

	// Writers for the same key serialize so a reader always observes
	// one complete prior write.
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if c.strategy != core.CacheStrategyRedisOnly {
		_ = c.fast.Set(ctx, key, value, ttl)
	}
	if c.strategy != core.CacheStrategyMemoryOnly {
		if err := c.slow.Set(ctx, key, value, ttl); err != nil {
			c.logger.Debug("Slow tier write skipped", map[string]interface{}{
				"operation": "cache_set",
				"key":       key,
				"reason":    err.Error(),
			})
		}
	}
}

// Delete removes a key from every tier.
func (c *HybridCache) Delete(ctx context.Context, ct core.ContentType, id string) {
	key := Key(ct, id)
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if c.strategy != core.CacheStrategyRedisOnly {
		_ = c.fast.Delete(ctx, key)
	}
	if c.strategy != core.CacheStrategyMemoryOnly {
		_ = c.slow.Delete(ctx, key)
	}
}

// Healthy reports overall cache health: the fast tier is always
// healthy, so this reflects the slow tier when one is configured.
func (c *HybridCache) Healthy(ctx context.Context) bool {
	if c.strategy == core.CacheStrategyMemoryOnly {
		return true
	}
	return c.slow.Healthy(ctx)
}

// Stats snapshots cache counters. Counters are monotonic between
// resets.
func (c *HybridCache) Stats() Stats {
	c.statsMu.Lock()
	per := make(map[core.ContentType]TagStats, len(c.tags))
	for ct, s := range c.tags {
		per[ct] = *s
	}
	c.statsMu.Unlock()

	st := Stats{PerTag: per, OverallHealthy: true, SlowConnected: c.strategy == core.CacheStrategyMemoryOnly}
	if c.fast != nil {
		st.FastKeys = c.fast.Len()
		st.MemoryEstimate = c.fast.MemoryEstimate()
	}
	if c.slow != nil {
		st.SlowConnected = c.slow.Connected()
		st.OverallHealthy = st.SlowConnected
	}
	return st
}

// Stop releases background resources.
func (c *HybridCache) Stop() {
	if c.fast != nil {
		c.fast.Stop()
	}
	if c.slow != nil {
		_ = c.slow.Close()
	}
}

func (c *HybridCache) lockFor(key string) *sync.Mutex {
	actual, _ := c.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (c *HybridCache) count(ct core.ContentType, hit bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s, ok := c.tags[ct]
	if !ok {
		s = &TagStats{}
		c.tags[ct] = s
	}
	s.Ops++
	if hit {
		s.Hits++
	} else {
		s.Misses++
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}
