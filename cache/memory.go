// Package cache implements the engine's two-level cache: a fast
// in-process LRU tier with TTLs and an optional Redis-backed slow tier.
// Keys are (content-type, logical id); values are JSON-compatible text.
package cache

import (
	"context"
	"sync"
	"time"
)

// Tier is one level of the cache. Values are opaque serialized text;
// the cache is schema-oblivious.
type Tier interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Healthy(ctx context.Context) bool
}

// MemoryTier is a bounded-key LRU with per-entry TTL. Concurrent
// readers are cheap; writers serialize on the tier lock.
type MemoryTier struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruItem
	head     *lruItem
	tail     *lruItem

	janitorStop chan struct{}
	janitorOnce sync.Once
}

type lruItem struct {
	key       string
	value     string
	expiresAt time.Time
	prev      *lruItem
	next      *lruItem
}

// NewMemoryTier creates the fast tier with the given key capacity.
func NewMemoryTier(capacity int) *MemoryTier {
	if capacity <= 0 {
		capacity = 10000
	}
	m := &MemoryTier{
		capacity:    capacity,
		items:       make(map[string]*lruItem),
		janitorStop: make(chan struct{}),
	}
	go m.janitor(1 * time.Minute)
	return m
}

// Get retrieves a value, refreshing its recency. Expired entries are
// removed on access.
func (m *MemoryTier) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, found := m.items[key]
	if !found {
		return "", false, nil
	}
	if time.Now().After(item.expiresAt) {
		m.removeLocked(item)
		return "", false, nil
	}
	m.moveToFrontLocked(item)
	return item.value, true, nil
}

// Set stores a value. At capacity the least recently used key is
// evicted first.
func (m *MemoryTier) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, found := m.items[key]; found {
		item.value = value
		item.expiresAt = time.Now().Add(ttl)
		m.moveToFrontLocked(item)
		return nil
	}

	if len(m.items) >= m.capacity && m.tail != nil {
		m.removeLocked(m.tail)
	}

	item := &lruItem{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	m.items[key] = item
	m.addToFrontLocked(item)
	return nil
}

// Delete removes a key.
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, found := m.items[key]; found {
		m.removeLocked(item)
	}
	return nil
}

// Healthy always holds for the in-process tier.
func (m *MemoryTier) Healthy(context.Context) bool { return true }

// Len returns the live key count.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// MemoryEstimate approximates the tier's footprint in bytes.
func (m *MemoryTier) MemoryEstimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for k, item := range m.items {
		total += int64(len(k) + len(item.value) + 64)
	}
	return total
}

// Stop terminates the janitor goroutine.
func (m *MemoryTier) Stop() {
	m.janitorOnce.Do(func() { close(m.janitorStop) })
}

func (m *MemoryTier) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.janitorStop:
			return
		}
	}
}

func (m *MemoryTier) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, item := range m.items {
		if now.After(item.expiresAt) {
			m.removeLocked(item)
		}
	}
}

func (m *MemoryTier) moveToFrontLocked(item *lruItem) {
	if item == m.head {
		return
	}
	m.unlinkLocked(item)
	m.addToFrontLocked(item)
}

func (m *MemoryTier) addToFrontLocked(item *lruItem) {
	item.prev = nil
	item.next = m.head
	if m.head != nil {
		m.head.prev = item
	}
	m.head = item
	if m.tail == nil {
		m.tail = item
	}
}

func (m *MemoryTier) unlinkLocked(item *lruItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		m.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		m.tail = item.prev
	}
}

func (m *MemoryTier) removeLocked(item *lruItem) {
	m.unlinkLocked(item)
	delete(m.items, item.key)
}

var _ Tier = (*MemoryTier)(nil)
