package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the non-empty configuration paths the loader reads.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if strings.TrimSpace(path) != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	sources := make([]string, 0, len(l.files))
	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Sources = sources
	return cfg, nil
}

// envCanonical restores camelCase keys that environment variables cannot express.
var envCanonical = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"cache.ttlseconds":                 "cache.ttlSeconds",
	"cache.redis.keyprefix":            "cache.redis.keyPrefix",
	"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
	"storage.redis.keyprefix":          "storage.redis.keyPrefix",
	"storage.redis.tls.cafile":         "storage.redis.tls.caFile",
	"unread.pollintervalseconds":       "unread.pollIntervalSeconds",
	"unread.autoactivate":              "unread.autoActivate",
	"api.baseurl":                      "api.baseURL",
	"api.timeoutseconds":               "api.timeoutSeconds",
}

func (l *Loader) envKey(s string) string {
	// Double underscores signal a nested path (DASHSYNC_UNREAD__POLLINTERVALSECONDS -> unread.pollIntervalSeconds).
	key := strings.TrimPrefix(s, l.envPrefix+"_")
	key = strings.ReplaceAll(key, "__", ".")
	lower := strings.ToLower(key)
	if mapped, ok := envCanonical[lower]; ok {
		return mapped
	}
	// Single underscores are removed so POLL_INTERVAL_SECONDS collapses into pollintervalseconds.
	key = strings.ReplaceAll(lower, "_", "")
	if mapped, ok := envCanonical[key]; ok {
		return mapped
	}
	return key
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %q", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	routes := make(map[string]any, len(cfg.Cache.Routes))
	for name, route := range cfg.Cache.Routes {
		routes[name] = map[string]any{
			"key": route.Key,
			"ttl": route.TTL,
		}
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"cache": map[string]any{
			"backend":    cfg.Cache.Backend,
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"coalesce":   cfg.Cache.Coalesce,
			"redis":      redisToMap(cfg.Cache.Redis),
			"routes":     routes,
		},
		"storage": map[string]any{
			"backend": cfg.Storage.Backend,
			"path":    cfg.Storage.Path,
			"redis":   redisToMap(cfg.Storage.Redis),
		},
		"unread": map[string]any{
			"pollIntervalSeconds": cfg.Unread.PollIntervalSeconds,
			"autoActivate":        cfg.Unread.AutoActivate,
		},
		"api": map[string]any{
			"baseURL":        cfg.API.BaseURL,
			"timeoutSeconds": cfg.API.TimeoutSeconds,
			"token":          cfg.API.Token,
		},
	}
}

func redisToMap(cfg RedisConfig) map[string]any {
	return map[string]any{
		"address":   cfg.Address,
		"username":  cfg.Username,
		"password":  cfg.Password,
		"db":        cfg.DB,
		"keyPrefix": cfg.KeyPrefix,
		"tls": map[string]any{
			"enabled": cfg.TLS.Enabled,
			"caFile":  cfg.TLS.CAFile,
		},
	}
}
