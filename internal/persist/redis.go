package persist

import (
	"context"
	"errors"
	"fmt"

	valkey "github.com/valkey-io/valkey-go"
)

type redisKV struct {
	client valkey.Client
	prefix string
}

// NewRedis stores values as plain strings under prefix. The KV takes
// ownership of client.
func NewRedis(client valkey.Client, prefix string) (KV, error) {
	if client == nil {
		return nil, errors.New("persist: redis client required")
	}
	return &redisKV{client: client, prefix: prefix}, nil
}

func (r *redisKV) GetString(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Do(ctx, r.client.B().Get().Key(r.prefix+key).Build()).ToString()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("persist: redis get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *redisKV) SetString(ctx context.Context, key, value string) error {
	if err := r.client.Do(ctx, r.client.B().Set().Key(r.prefix+key).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("persist: redis set %q: %w", key, err)
	}
	return nil
}

func (r *redisKV) Close() error {
	r.client.Close()
	return nil
}
