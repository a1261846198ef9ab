// Package persist stores the small string values that make up the inbox read
// state. Backends assume a single writer per key: concurrent processes sharing
// a backend overwrite each other (last write wins).
package persist

import (
	"context"
)

// KV is a string key-value store.
type KV interface {
	// GetString returns the stored value and whether it exists.
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
	Close() error
}
