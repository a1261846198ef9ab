package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, 5*time.Minute, cfg.Cache.CacheTTL())
				require.Equal(t, time.Minute, cfg.Unread.PollInterval())
				require.Equal(t, "memory", cfg.Storage.Backend)
				require.Contains(t, cfg.Cache.Routes, RouteContacts)
				require.Empty(t, cfg.Sources)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.yaml")
				contents := "server:\n  listen:\n    port: 9090\nunread:\n  pollIntervalSeconds: 15\napi:\n  baseURL: https://api.example.com\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 15*time.Second, cfg.Unread.PollInterval())
				require.Equal(t, "https://api.example.com", cfg.API.BaseURL)
				require.Len(t, cfg.Sources, 1)
			},
		},
		{
			name: "merges json overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.json")
				contents := `{"cache":{"ttlSeconds":60,"coalesce":true}}`
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, time.Minute, cfg.Cache.CacheTTL())
				require.True(t, cfg.Cache.Coalesce)
			},
		},
		{
			name: "merges toml overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.toml")
				contents := "[storage]\nbackend = \"sqlite\"\npath = \"/var/lib/dashsync/state.db\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "sqlite", cfg.Storage.Backend)
				require.Equal(t, "/var/lib/dashsync/state.db", cfg.Storage.Path)
			},
		},
		{
			name: "route overrides keep default routes",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.yaml")
				contents := "cache:\n  routes:\n    contacts:\n      ttl: 30s\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 30*time.Second, cfg.Cache.RouteTTL(RouteContacts))
				require.Equal(t, "admin:stats", cfg.Cache.Routes[RouteAdminStats].Key)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("DASHSYNC_SERVER__LISTEN__PORT", "9091")
				t.Setenv("DASHSYNC_UNREAD__POLL_INTERVAL_SECONDS", "5")
				t.Setenv("DASHSYNC_API__BASEURL", "http://admin.internal:8000")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, 5*time.Second, cfg.Unread.PollInterval())
				require.Equal(t, "http://admin.internal:8000", cfg.API.BaseURL)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.ini")
				require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "dashsync.yaml")
				require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: file\n"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader("DASHSYNC", files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestLoaderHonorsCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("DASHSYNC", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
