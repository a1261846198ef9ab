package cache

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// Entry is one cached response. Value holds the JSON encoding of whatever the
// producer returned; stores never hand out or keep a shared copy of it.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Valid reports whether the entry may still be served at now.
func (e Entry) Valid(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

// Store is the backend contract behind RequestCache. Expired entries must be
// reported as absent by Lookup.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes every key matched by pattern.
	DeleteMatching(ctx context.Context, pattern *regexp.Regexp) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

var errExpiryRequired = errors.New("cache: entry expiry required")

func cloneEntry(in Entry) Entry {
	out := in
	if in.Value != nil {
		out.Value = append(json.RawMessage(nil), in.Value...)
	}
	return out
}
