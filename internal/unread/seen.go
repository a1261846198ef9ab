package unread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/persist"
)

// Persisted keys.
const (
	SeenCountKey = "seen-messages-count"
	ReadIDsKey   = "read-message-ids"
)

// SeenStore reads and writes the acknowledged message total and the set of
// individually read message ids. The two values are independent: reading a
// message never moves the seen count and marking all seen never adds ids.
type SeenStore struct {
	kv     persist.KV
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSeenStore wraps kv.
func NewSeenStore(kv persist.KV, logger *slog.Logger) *SeenStore {
	return &SeenStore{kv: kv, logger: logging.Agent(logger, "seen_store")}
}

// SeenCount returns the persisted seen count. Absent, malformed and negative
// values read as 0.
func (s *SeenStore) SeenCount(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.GetString(ctx, SeenCountKey)
	if err != nil {
		return 0, fmt.Errorf("unread: read %s: %w", SeenCountKey, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		s.logger.Warn("ignoring malformed seen count", slog.String("value", raw))
		return 0, nil
	}
	return n, nil
}

// SetSeenCount persists n, clamped at zero.
func (s *SeenStore) SetSeenCount(ctx context.Context, n int) error {
	n = max(n, 0)
	if err := s.kv.SetString(ctx, SeenCountKey, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("unread: write %s: %w", SeenCountKey, err)
	}
	return nil
}

// ReadIDs returns the read ids in ascending order. A malformed document reads
// as empty.
func (s *SeenStore) ReadIDs(ctx context.Context) ([]int64, error) {
	raw, ok, err := s.kv.GetString(ctx, ReadIDsKey)
	if err != nil {
		return nil, fmt.Errorf("unread: read %s: %w", ReadIDsKey, err)
	}
	ids := []int64{}
	if !ok || strings.TrimSpace(raw) == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("ignoring malformed read ids", slog.Any("error", err))
		return []int64{}, nil
	}
	if ids == nil {
		ids = []int64{}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// AddReadIDs merges ids into the persisted set and returns the result. The set
// only grows.
func (s *SeenStore) AddReadIDs(ctx context.Context, ids ...int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ReadIDs(ctx)
	if err != nil {
		return nil, err
	}
	merged := append(slices.Clone(current), ids...)
	slices.Sort(merged)
	merged = slices.Compact(merged)
	if len(merged) == len(current) {
		return current, nil
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("unread: encode %s: %w", ReadIDsKey, err)
	}
	if err := s.kv.SetString(ctx, ReadIDsKey, string(payload)); err != nil {
		return nil, fmt.Errorf("unread: write %s: %w", ReadIDsKey, err)
	}
	return merged, nil
}

// IsRead reports whether id was individually marked read.
func (s *SeenStore) IsRead(ctx context.Context, id int64) (bool, error) {
	ids, err := s.ReadIDs(ctx)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(ids, id)
	return found, nil
}
