package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/dashsync/internal/adminapi"
	"github.com/l0p7/dashsync/internal/cache"
	"github.com/l0p7/dashsync/internal/config"
	"github.com/l0p7/dashsync/internal/dashboard"
	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/metrics"
	"github.com/l0p7/dashsync/internal/persist"
	"github.com/l0p7/dashsync/internal/redisclient"
	"github.com/l0p7/dashsync/internal/server"
	"github.com/l0p7/dashsync/internal/templates"
	"github.com/l0p7/dashsync/internal/unread"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "DASHSYNC", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configWatcher interface {
	Stop()
}

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type runnableServer interface {
	Run(ctx context.Context) error
}

type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	if len(l.Files()) == 0 {
		return nil, nil
	}
	return l.Loader.Watch(ctx, onChange, onError)
}

var newConfigLoader = func(envPrefix, configFile string) configLoader {
	var files []string
	if strings.TrimSpace(configFile) != "" {
		files = append(files, configFile)
	}
	return fileLoader{config.NewLoader(envPrefix, files...)}
}

var newHTTPServer = func(cfg config.ListenConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	return server.New(cfg, logger, handler)
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	if len(cfg.Sources) > 0 {
		logger.Info("configuration loaded", slog.Any("sources", cfg.Sources))
	}

	recorder := metrics.NewRecorder(nil)

	requestCache := cache.New(buildCacheStore(logging.Agent(logger, "cache_factory"), cfg.Cache), cache.Options{
		DefaultTTL: cfg.Cache.CacheTTL(),
		Coalesce:   cfg.Cache.Coalesce,
		Logger:     logger,
		Metrics:    recorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := requestCache.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	state, err := buildStateStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Error("state store shutdown failed", slog.Any("error", err))
		}
	}()

	api, err := adminapi.New(adminapi.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout(),
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("admin api client: %w", err)
	}

	keys, err := templates.NewRenderer().CompileKeys(routeKeys(cfg.Cache))
	if err != nil {
		return fmt.Errorf("cache key templates: %w", err)
	}

	seen := unread.NewSeenStore(state, logger)
	reconciler := unread.New(api, seen, unread.Options{
		Interval: cfg.Unread.PollInterval(),
		Logger:   logger,
		Metrics:  recorder,
	})
	defer reconciler.Close()
	if cfg.Unread.AutoActivate {
		reconciler.Activate(ctx)
	}

	svc, err := dashboard.New(dashboard.Options{
		Cache:      requestCache,
		API:        api,
		Keys:       keys,
		Reconciler: reconciler,
		Inbox:      unread.NewInbox(seen, reconciler, logger),
		RouteTTLs:  routeTTLs(cfg.Cache),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	watcher, err := loader.Watch(ctx, func(next config.Config) {
		requestCache.SetDefaultTTL(next.Cache.CacheTTL())
		reconciler.SetInterval(next.Unread.PollInterval())
		svc.SetRouteTTLs(routeTTLs(next.Cache))
		logger.Info("configuration reloaded",
			slog.Duration("cache_ttl", next.Cache.CacheTTL()),
			slog.Duration("poll_interval", next.Unread.PollInterval()))
	}, func(err error) {
		logger.Error("configuration reload rejected", slog.Any("error", err))
	})
	if err != nil {
		logger.Error("configuration watcher setup failed", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	router := server.NewRouter(svc.Handler(), recorder.Handler(), logger, cfg.Server.Logging.CorrelationHeader)
	srv, err := newHTTPServer(cfg.Server.Listen, logger, router)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

func buildCacheStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory request cache", slog.Duration("ttl", cfg.CacheTTL()))
		return cache.NewMemory(nil)
	case "redis":
		client, err := redisclient.New(cfg.Redis)
		if err == nil {
			var store cache.Store
			store, err = cache.NewRedis(client, redisclient.KeyPrefix(cfg.Redis.KeyPrefix), nil)
			if err == nil {
				logger.Info("using redis request cache", slog.String("address", cfg.Redis.Address))
				return store
			}
			client.Close()
		}
		logger.Error("redis cache initialization failed", slog.Any("error", err))
		logger.Info("falling back to memory cache")
		return cache.NewMemory(nil)
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory(nil)
	}
}

func buildStateStore(cfg config.StorageConfig) (persist.KV, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		return persist.NewMemory(), nil
	case "file":
		return persist.NewFile(cfg.Path)
	case "sqlite":
		return persist.NewSQLite(cfg.Path)
	case "redis":
		client, err := redisclient.New(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return persist.NewRedis(client, redisclient.KeyPrefix(cfg.Redis.KeyPrefix))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func routeKeys(cfg config.CacheConfig) map[string]string {
	keys := make(map[string]string, len(cfg.Routes))
	for name, route := range cfg.Routes {
		keys[name] = route.Key
	}
	return keys
}

func routeTTLs(cfg config.CacheConfig) map[string]time.Duration {
	ttls := make(map[string]time.Duration, len(cfg.Routes))
	for name := range cfg.Routes {
		if ttl := cfg.RouteTTL(name); ttl > 0 {
			ttls[name] = ttl
		}
	}
	return ttls
}
