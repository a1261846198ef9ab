package cache

import (
	"context"
	"regexp"
	"sync"
	"time"
)

type memoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory returns a process-local Store. Expired entries are purged lazily
// when looked up. A nil clock defaults to time.Now.
func NewMemory(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{now: now, entries: make(map[string]Entry)}
}

func (c *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !entry.Valid(c.now()) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *memoryStore) Store(_ context.Context, key string, entry Entry) error {
	if entry.ExpiresAt.IsZero() {
		return errExpiryRequired
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneEntry(entry)
	return nil
}

func (c *memoryStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryStore) DeleteMatching(_ context.Context, pattern *regexp.Regexp) error {
	if pattern == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if pattern.MatchString(key) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memoryStore) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	return nil
}

// Size counts stored entries, including expired ones not yet purged.
func (c *memoryStore) Size(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *memoryStore) Close(context.Context) error {
	return nil
}
