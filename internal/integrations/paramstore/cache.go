package paramstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

type cacheEntry struct {
	value    string
	loadedAt time.Time
}

// Cached memoises a Getter per parameter name for ttl. Errors are never
// cached, and an expired entry is never served when the refresh fails, so a
// rotated secret cannot outlive its TTL.
type Cached struct {
	next Getter
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCached(next Getter, ttl time.Duration) (*Cached, error) {
	if next == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("paramstore: cache ttl must be positive")
	}
	return &Cached{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}, nil
}

func (c *Cached) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return e.value, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok && c.fresh(e) {
		return e.value, nil
	}
	v, err := c.next.GetParameter(ctx, name)
	if err != nil {
		delete(c.entries, name)
		return "", err
	}
	c.entries[name] = cacheEntry{value: v, loadedAt: c.now()}
	return v, nil
}

func (c *Cached) fresh(e cacheEntry) bool {
	return c.now().Sub(e.loadedAt) < c.ttl
}
