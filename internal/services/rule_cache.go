package services

import (
	"context"
	"sync"
	"time"
)

// RuleCache holds the formatted rule-prompt text under a single global key.
// Implementations must distinguish a cached empty string from a miss.
type RuleCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type memoryCacheEntry struct {
	value     string
	expiresAt time.Time
}

type memoryRuleCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

// NewMemoryRuleCache is the in-process fallback used when no redis address is
// configured, and by tests.
func NewMemoryRuleCache() RuleCache {
	return &memoryRuleCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *memoryRuleCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *memoryRuleCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *memoryRuleCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}
