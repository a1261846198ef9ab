// Package redisclient builds valkey clients shared by the cache and state
// stores.
package redisclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/l0p7/dashsync/internal/config"
)

// ConnectTimeout bounds the initial PING.
const ConnectTimeout = 5 * time.Second

// New dials the configured server and verifies it answers PING. The caller
// owns the returned client and must Close it.
func New(cfg config.RedisConfig) (valkey.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("redis: address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := tlsConfigFor(cfg.TLS)
		if err != nil {
			return nil, err
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("redis: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// KeyPrefix normalizes a configured namespace so it always ends in a colon.
// An empty prefix stays empty.
func KeyPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func tlsConfigFor(cfg config.RedisTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAFile == "" {
		return tlsConfig, nil
	}
	caData, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("redis: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, errors.New("redis: ca file contains no certificates")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
