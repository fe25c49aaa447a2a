package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/runbookops/runbookd/core"
)

// RedisTier is the slow cache tier. It namespaces keys under a
// configurable prefix and degrades gracefully: when the connection is
// lost the tier reports unhealthy and reconnects with exponential
// backoff (1s doubling to 30s, five attempts per cycle) until the next
// health cycle re-arms it.
type RedisTier struct {
	client    *redis.Client
	keyPrefix string
	logger    core.Logger

	connected atomic.Bool

	reconnectMu      sync.Mutex
	reconnectRunning bool
}

// RedisTierOptions configures the slow tier.
type RedisTierOptions struct {
	URL       string
	KeyPrefix string
	PoolSize  int
	Logger    core.Logger
}

// NewRedisTier creates the slow tier. The initial connection is
// verified with a ping; failure is non-fatal, the tier starts degraded
// and the cache serves from the fast tier only.
func NewRedisTier(opts RedisTierOptions) (*RedisTier, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}

	redisOpt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	if opts.PoolSize > 0 {
		redisOpt.PoolSize = opts.PoolSize
	}

	t := &RedisTier{
		client:    redis.NewClient(redisOpt),
		keyPrefix: opts.KeyPrefix,
		logger:    opts.Logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.client.Ping(ctx).Err(); err != nil {
		t.logger.Warn("Redis slow tier unreachable at startup, serving degraded", map[string]interface{}{
			"operation": "cache_redis_connect",
			"error":     err.Error(),
		})
		t.connected.Store(false)
		t.scheduleReconnect()
	} else {
		t.connected.Store(true)
		t.logger.Info("Redis slow tier connected", map[string]interface{}{
			"operation":  "cache_redis_connect",
			"key_prefix": opts.KeyPrefix,
		})
	}

	return t, nil
}

func (t *RedisTier) formatKey(key string) string {
	if t.keyPrefix != "" {
		return t.keyPrefix + ":" + key
	}
	return key
}

// Get retrieves a value. A missing key is not an error.
func (t *RedisTier) Get(ctx context.Context, key string) (string, bool, error) {
	if !t.connected.Load() {
		return "", false, core.ErrCacheDegraded
	}
	val, err := t.client.Get(ctx, t.formatKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		t.markDisconnected(err)
		return "", false, fmt.Errorf("redis get: %w", core.ErrCacheDegraded)
	}
	return val, true, nil
}

// Set stores a value with its TTL.
func (t *RedisTier) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if !t.connected.Load() {
		return core.ErrCacheDegraded
	}
	if err := t.client.Set(ctx, t.formatKey(key), value, ttl).Err(); err != nil {
		t.markDisconnected(err)
		return fmt.Errorf("redis set: %w", core.ErrCacheDegraded)
	}
	return nil
}

// Delete removes a key.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if !t.connected.Load() {
		return core.ErrCacheDegraded
	}
	if err := t.client.Del(ctx, t.formatKey(key)).Err(); err != nil {
		t.markDisconnected(err)
		return fmt.Errorf("redis delete: %w", core.ErrCacheDegraded)
	}
	return nil
}

// Healthy pings Redis. Called from the health cycle; a successful ping
// re-arms a disconnected tier.
func (t *RedisTier) Healthy(ctx context.Context) bool {
	if err := t.client.Ping(ctx).Err(); err != nil {
		if t.connected.Load() {
			t.markDisconnected(err)
		} else {
			// Health cycle re-arms the reconnect loop after it gave up.
			t.scheduleReconnect()
		}
		return false
	}
	t.connected.Store(true)
	return true
}

// Connected reports the tier's last known connection state without
// touching the network.
func (t *RedisTier) Connected() bool {
	return t.connected.Load()
}

// Close releases the connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) markDisconnected(err error) {
	if t.connected.Swap(false) {
		t.logger.Warn("Redis slow tier lost, degrading to fast tier only", map[string]interface{}{
			"operation": "cache_redis_degraded",
			"error":     err.Error(),
		})
	}
	t.scheduleReconnect()
}

// scheduleReconnect starts one background reconnect loop: initial 1s,
// doubling, capped at 30s, at most 5 attempts before giving up until
// the next health cycle.
func (t *RedisTier) scheduleReconnect() {
	t.reconnectMu.Lock()
	if t.reconnectRunning {
		t.reconnectMu.Unlock()
		return
	}
	t.reconnectRunning = true
	t.reconnectMu.Unlock()

	go func() {
		defer func() {
			t.reconnectMu.Lock()
			t.reconnectRunning = false
			t.reconnectMu.Unlock()
		}()

		delay := 1 * time.Second
		for attempt := 1; attempt <= 5; attempt++ {
			time.Sleep(delay)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := t.client.Ping(ctx).Err()
			cancel()

			if err == nil {
				t.connected.Store(true)
				t.logger.Info("Redis slow tier reconnected", map[string]interface{}{
					"operation": "cache_redis_reconnect",
					"attempts":  attempt,
				})
				return
			}

			delay *= 2
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}

		t.logger.Warn("Redis reconnect attempts exhausted, waiting for health cycle", map[string]interface{}{
			"operation": "cache_redis_reconnect",
			"attempts":  5,
		})
	}()
}

var _ Tier = (*RedisTier)(nil)
