package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileKV struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// NewFile keeps every key in one JSON object at path. Writes go to a temp file
// that is renamed over the original.
func NewFile(path string) (KV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("persist: file path required")
	}
	kv := &fileKV{path: filepath.Clean(path), values: make(map[string]string)}
	data, err := os.ReadFile(kv.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return kv, nil
	case err != nil:
		return nil, fmt.Errorf("persist: read %s: %w", kv.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(data, &kv.values); err != nil {
		return nil, fmt.Errorf("persist: decode %s: %w", kv.path, err)
	}
	return kv, nil
}

func (f *fileKV) GetString(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok, nil
}

func (f *fileKV) SetString(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]string, len(f.values)+1)
	for k, v := range f.values {
		next[k] = v
	}
	next[key] = value
	if err := f.write(next); err != nil {
		return err
	}
	f.values = next
	return nil
}

func (f *fileKV) write(values map[string]string) error {
	payload, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: rename %s: %w", f.path, err)
	}
	return nil
}

func (f *fileKV) Close() error { return nil }
