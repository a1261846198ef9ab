// Package dashboard serves the admin dashboard reads through the request
// cache and exposes the unread badge and inbox read state.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/dashsync/internal/adminapi"
	"github.com/l0p7/dashsync/internal/cache"
	"github.com/l0p7/dashsync/internal/config"
	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/templates"
	"github.com/l0p7/dashsync/internal/unread"
)

// AdminAPI is the subset of adminapi.Client the dashboard reads from.
type AdminAPI interface {
	ListContacts(ctx context.Context, msgType adminapi.MessageType) ([]adminapi.ContactMessage, error)
	ContactStats(ctx context.Context) (adminapi.ContactStats, error)
	AdminStats(ctx context.Context) (json.RawMessage, error)
	NewGroups(ctx context.Context) (json.RawMessage, error)
	ExpiringSoon(ctx context.Context) (json.RawMessage, error)
}

// Options wires a Service. Every field except Logger and RouteTTLs is required.
type Options struct {
	Cache      *cache.RequestCache
	API        AdminAPI
	Keys       *templates.KeySet
	Reconciler *unread.Reconciler
	Inbox      *unread.Inbox
	RouteTTLs  map[string]time.Duration
	Logger     *slog.Logger
}

// Service answers dashboard reads from the cache, falling back to the admin API.
type Service struct {
	cache      *cache.RequestCache
	api        AdminAPI
	keys       *templates.KeySet
	reconciler *unread.Reconciler
	inbox      *unread.Inbox
	logger     *slog.Logger

	mu   sync.RWMutex
	ttls map[string]time.Duration
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Cache == nil:
		return nil, errors.New("dashboard: cache required")
	case opts.API == nil:
		return nil, errors.New("dashboard: admin api required")
	case opts.Keys == nil:
		return nil, errors.New("dashboard: key templates required")
	case opts.Reconciler == nil || opts.Inbox == nil:
		return nil, errors.New("dashboard: unread reconciler and inbox required")
	}
	s := &Service{
		cache:      opts.Cache,
		api:        opts.API,
		keys:       opts.Keys,
		reconciler: opts.Reconciler,
		inbox:      opts.Inbox,
		logger:     logging.Agent(opts.Logger, "dashboard"),
	}
	s.SetRouteTTLs(opts.RouteTTLs)
	return s, nil
}

// SetRouteTTLs replaces the per-route lifetimes. Routes without an entry use
// the cache default.
func (s *Service) SetRouteTTLs(ttls map[string]time.Duration) {
	copied := make(map[string]time.Duration, len(ttls))
	for route, ttl := range ttls {
		copied[route] = ttl
	}
	s.mu.Lock()
	s.ttls = copied
	s.mu.Unlock()
}

func (s *Service) ttl(route string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttls[route]
}

// Contacts lists inbox messages, optionally filtered by type.
func (s *Service) Contacts(ctx context.Context, msgType adminapi.MessageType) ([]adminapi.ContactMessage, error) {
	key, err := s.keys.Key(config.RouteContacts, map[string]string{"type": string(msgType)})
	if err != nil {
		return nil, err
	}
	return cache.WithCache(ctx, s.cache, key, s.ttl(config.RouteContacts), func(ctx context.Context) ([]adminapi.ContactMessage, error) {
		return s.api.ListContacts(ctx, msgType)
	})
}

// ContactStats returns the cached message totals. The unread badge polls the
// API directly and never reads this entry.
func (s *Service) ContactStats(ctx context.Context) (adminapi.ContactStats, error) {
	key, err := s.keys.Key(config.RouteContactStats, nil)
	if err != nil {
		return adminapi.ContactStats{}, err
	}
	return cache.WithCache(ctx, s.cache, key, s.ttl(config.RouteContactStats), s.api.ContactStats)
}

func (s *Service) AdminStats(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, config.RouteAdminStats, s.api.AdminStats)
}

func (s *Service) NewGroups(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, config.RouteNewGroups, s.api.NewGroups)
}

func (s *Service) ExpiringSoon(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, config.RouteExpiringSoon, s.api.ExpiringSoon)
}

func (s *Service) raw(ctx context.Context, route string, fetch func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	key, err := s.keys.Key(route, nil)
	if err != nil {
		return nil, err
	}
	return cache.WithCache(ctx, s.cache, key, s.ttl(route), fetch)
}

// AnnotatedContacts lists messages with their per-item read flag.
func (s *Service) AnnotatedContacts(ctx context.Context, msgType adminapi.MessageType) ([]unread.Row, error) {
	messages, err := s.Contacts(ctx, msgType)
	if err != nil {
		return nil, err
	}
	return s.inbox.Annotate(ctx, messages)
}

// MarkAllRead marks ids read, or every message in the current listing for
// msgType when ids is empty, then marks everything seen. It returns the number
// of ids submitted.
func (s *Service) MarkAllRead(ctx context.Context, msgType adminapi.MessageType, ids []int64) (int, error) {
	if len(ids) == 0 {
		messages, err := s.Contacts(ctx, msgType)
		if err != nil {
			return 0, err
		}
		ids = make([]int64, 0, len(messages))
		for _, msg := range messages {
			ids = append(ids, msg.ID)
		}
	}
	return len(ids), s.inbox.MarkAllRead(ctx, ids)
}
