package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/metrics"
)

// Resource names double as metric labels.
const (
	ResourceContacts     = "contacts"
	ResourceContactStats = "contact_stats"
	ResourceAdminStats   = "admin_stats"
	ResourceNewGroups    = "new_groups"
	ResourceExpiringSoon = "expiring_soon"
)

const errorBodyLimit = 512

// httpDoer represents the minimal client contract used to reach the admin API.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient httpDoer
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// Client reads from the remote admin API.
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration
	http    httpDoer
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New validates the base URL and builds a client. A nil HTTPClient uses
// http.DefaultClient; per-request deadlines come from Timeout.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("adminapi: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("adminapi: base url must be absolute: %q", opts.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	doer := opts.HTTPClient
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		base:    base,
		token:   strings.TrimSpace(opts.Token),
		timeout: opts.Timeout,
		http:    doer,
		logger:  logging.Agent(opts.Logger, "adminapi"),
		metrics: opts.Metrics,
	}, nil
}

// ListContacts returns the inbox in server order, optionally filtered by type.
func (c *Client) ListContacts(ctx context.Context, msgType MessageType) ([]ContactMessage, error) {
	query := url.Values{}
	if msgType != "" {
		query.Set("type", string(msgType))
	}
	var out []ContactMessage
	if err := c.get(ctx, ResourceContacts, "/contact", query, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []ContactMessage{}
	}
	return out, nil
}

// ContactStats returns the message totals used by the unread badge.
func (c *Client) ContactStats(ctx context.Context) (ContactStats, error) {
	var out ContactStats
	if err := c.get(ctx, ResourceContactStats, "/contact/stats", nil, &out); err != nil {
		return ContactStats{}, err
	}
	return out, nil
}

// AdminStats returns the dashboard KPI aggregate untouched.
func (c *Client) AdminStats(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, ResourceAdminStats, "/admin/stats")
}

// NewGroups returns recently created groups untouched.
func (c *Client) NewGroups(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, ResourceNewGroups, "/admin/new-groups")
}

// ExpiringSoon returns groups whose subscription is about to lapse, untouched.
func (c *Client) ExpiringSoon(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, ResourceExpiringSoon, "/admin/groups/expiring-soon")
}

func (c *Client) raw(ctx context.Context, resource, path string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, resource, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, resource, path string, query url.Values, out any) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = classify(err)
			c.logger.Debug("admin api request failed", slog.String("resource", resource), slog.Any("error", err))
		}
		c.metrics.ObserveUpstream(resource, outcome, time.Since(start))
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("adminapi: %s: build request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("adminapi: %s: request: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{Resource: resource, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Resource: resource, Err: err}
	}
	return nil
}

func classify(err error) string {
	var statusErr *StatusError
	var decodeErr *DecodeError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "network"
	}
}
