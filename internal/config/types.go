package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the dashboard service reads at startup or on reload.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Cache   CacheConfig   `koanf:"cache"`
	Storage StorageConfig `koanf:"storage"`
	Unread  UnreadConfig  `koanf:"unread"`
	API     APIConfig     `koanf:"api"`

	// Sources records the files that contributed to this snapshot so the
	// watcher knows what to observe. It is never read from input documents.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// CacheConfig controls the request cache placed in front of the admin API.
type CacheConfig struct {
	Backend    string                 `koanf:"backend"`
	TTLSeconds int                    `koanf:"ttlSeconds"`
	Coalesce   bool                   `koanf:"coalesce"`
	Redis      RedisConfig            `koanf:"redis"`
	Routes     map[string]RouteConfig `koanf:"routes"`
}

// RouteConfig overrides the cache key template and TTL for one dashboard read.
type RouteConfig struct {
	Key string `koanf:"key"`
	TTL string `koanf:"ttl"`
}

// StorageConfig selects where the inbox read state is persisted.
type StorageConfig struct {
	Backend string      `koanf:"backend"`
	Path    string      `koanf:"path"`
	Redis   RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Address   string         `koanf:"address"`
	Username  string         `koanf:"username"`
	Password  string         `koanf:"password"`
	DB        int            `koanf:"db"`
	KeyPrefix string         `koanf:"keyPrefix"`
	TLS       RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UnreadConfig drives the unread badge poller.
type UnreadConfig struct {
	PollIntervalSeconds int  `koanf:"pollIntervalSeconds"`
	AutoActivate        bool `koanf:"autoActivate"`
}

// APIConfig points at the remote admin API.
type APIConfig struct {
	BaseURL        string `koanf:"baseURL"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	Token          string `koanf:"token"`
}

// Route names understood by the dashboard facade.
const (
	RouteContacts     = "contacts"
	RouteContactStats = "contactStats"
	RouteAdminStats   = "adminStats"
	RouteNewGroups    = "newGroups"
	RouteExpiringSoon = "expiringSoon"
)

// CacheTTL returns the default cache entry lifetime.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RouteTTL parses the per-route TTL override. Zero means "use the cache default".
func (c CacheConfig) RouteTTL(route string) time.Duration {
	rc, ok := c.Routes[route]
	if !ok || strings.TrimSpace(rc.TTL) == "" {
		return 0
	}
	d, err := time.ParseDuration(strings.TrimSpace(rc.TTL))
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// PollInterval returns the unread poller tick.
func (u UnreadConfig) PollInterval() time.Duration {
	return time.Duration(u.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-request timeout used against the admin API.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Validate enforces invariants that keep the service predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("config: cache.ttlSeconds invalid: %d", c.Cache.TTLSeconds)
	}
	switch normalize(c.Cache.Backend) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
		if strings.TrimSpace(c.Cache.Redis.KeyPrefix) == "" {
			return errors.New("config: cache.redis.keyPrefix required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	for name, route := range c.Cache.Routes {
		if ttl := strings.TrimSpace(route.TTL); ttl != "" {
			d, err := time.ParseDuration(ttl)
			if err != nil {
				return fmt.Errorf("config: cache.routes.%s.ttl invalid: %w", name, err)
			}
			if d < 0 {
				return fmt.Errorf("config: cache.routes.%s.ttl negative: %s", name, ttl)
			}
		}
	}
	switch normalize(c.Storage.Backend) {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("config: storage.path required for %s backend", normalize(c.Storage.Backend))
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("config: storage.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: storage.backend unsupported: %s", c.Storage.Backend)
	}
	if err := c.checkRedisNamespaces(); err != nil {
		return err
	}
	if c.Unread.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: unread.pollIntervalSeconds invalid: %d", c.Unread.PollIntervalSeconds)
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: api.timeoutSeconds invalid: %d", c.API.TimeoutSeconds)
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: api.baseURL required")
	}
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: api.baseURL invalid: %q", c.API.BaseURL)
	}
	return nil
}

// DefaultConfig returns the baseline values: five minute cache entries and a
// sixty second unread poll.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 300,
			Redis:      RedisConfig{KeyPrefix: "dashsync:cache"},
			Routes: map[string]RouteConfig{
				RouteContacts:     {Key: `contact:list:{{ .type | default "all" | lower }}`},
				RouteContactStats: {Key: "contact:stats"},
				RouteAdminStats:   {Key: "admin:stats"},
				RouteNewGroups:    {Key: "admin:new-groups"},
				RouteExpiringSoon: {Key: "admin:groups:expiring-soon"},
			},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Redis:   RedisConfig{KeyPrefix: "dashsync:state"},
		},
		Unread: UnreadConfig{
			PollIntervalSeconds: 60,
		},
		API: APIConfig{
			BaseURL:        "http://localhost:3000",
			TimeoutSeconds: 10,
		},
	}
}

// checkRedisNamespaces keeps cache clears away from persisted read state when
// both live in the same redis database.
func (c *Config) checkRedisNamespaces() error {
	if normalize(c.Cache.Backend) != "redis" || normalize(c.Storage.Backend) != "redis" {
		return nil
	}
	cacheRedis, stateRedis := c.Cache.Redis, c.Storage.Redis
	if normalize(cacheRedis.Address) != normalize(stateRedis.Address) || cacheRedis.DB != stateRedis.DB {
		return nil
	}
	cachePrefix := namespace(cacheRedis.KeyPrefix)
	statePrefix := namespace(stateRedis.KeyPrefix)
	if strings.HasPrefix(cachePrefix, statePrefix) || strings.HasPrefix(statePrefix, cachePrefix) {
		return fmt.Errorf("config: cache.redis.keyPrefix %q overlaps storage.redis.keyPrefix %q on the same database",
			cacheRedis.KeyPrefix, stateRedis.KeyPrefix)
	}
	return nil
}

// namespace mirrors the colon-terminated form keys are written under.
func namespace(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func normalize(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
