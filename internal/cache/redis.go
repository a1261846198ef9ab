package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const scanBatch = 200

type redisStore struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

// NewRedis wraps an established valkey client. Keys are written under prefix
// so Clear and DeleteMatching never touch foreign data in a shared database.
// An empty prefix is rejected because Clear would then wipe the database.
func NewRedis(client valkey.Client, prefix string, now func() time.Time) (Store, error) {
	if client == nil {
		return nil, errors.New("cache: redis client required")
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, errors.New("cache: redis key prefix required")
	}
	if now == nil {
		now = time.Now
	}
	return &redisStore{client: client, prefix: prefix, now: now}, nil
}

func (c *redisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	if !entry.Valid(c.now()) {
		if err := c.Delete(ctx, key); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *redisStore) Store(ctx context.Context, key string, entry Entry) error {
	if entry.ExpiresAt.IsZero() {
		return errExpiryRequired
	}
	now := c.now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now
	}
	ttl := entry.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(c.prefix + key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *redisStore) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (c *redisStore) DeleteMatching(ctx context.Context, pattern *regexp.Regexp) error {
	if pattern == nil {
		return nil
	}
	return c.scan(ctx, func(keys []string) error {
		victims := make([]string, 0, len(keys))
		for _, key := range keys {
			if pattern.MatchString(strings.TrimPrefix(key, c.prefix)) {
				victims = append(victims, key)
			}
		}
		return c.del(ctx, victims)
	})
}

func (c *redisStore) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		return c.del(ctx, keys)
	})
}

func (c *redisStore) Size(ctx context.Context) (int64, error) {
	var size int64
	err := c.scan(ctx, func(keys []string) error {
		size += int64(len(keys))
		return nil
	})
	return size, err
}

func (c *redisStore) Close(context.Context) error {
	c.client.Close()
	return nil
}

// scan walks every key under the store prefix in batches.
func (c *redisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		cmd := c.client.B().Scan().Cursor(cursor).Match(c.prefix + "*").Count(scanBatch).Build()
		entry, err := c.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := fn(entry.Elements); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (c *redisStore) del(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Do(ctx, c.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}
