// Package unread derives the inbox unread badge from the server message total
// and the locally acknowledged seen count.
package unread

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/dashsync/internal/adminapi"
	"github.com/l0p7/dashsync/internal/logging"
	"github.com/l0p7/dashsync/internal/metrics"
)

// DefaultInterval is the polling period while active.
const DefaultInterval = 60 * time.Second

// StatsSource supplies the server message totals.
type StatsSource interface {
	ContactStats(ctx context.Context) (adminapi.ContactStats, error)
}

// Counts is the published badge state.
type Counts struct {
	Total       int       `json:"total"`
	Unread      int       `json:"unread"`
	Active      bool      `json:"active"`
	LastFetched time.Time `json:"lastFetched,omitzero"`
}

// Options tunes a Reconciler.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Reconciler polls StatsSource while active and publishes Counts. It starts
// inactive.
type Reconciler struct {
	source  StatsSource
	seen    *SeenStore
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Recorder
	rearm   chan struct{}

	mu         sync.Mutex
	counts     Counts
	interval   time.Duration
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// New builds an inactive reconciler.
func New(source StatsSource, seen *SeenStore, opts Options) *Reconciler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		source:   source,
		seen:     seen,
		now:      now,
		logger:   logging.Agent(opts.Logger, "unread"),
		metrics:  opts.Metrics,
		rearm:    make(chan struct{}, 1),
		interval: interval,
	}
}

// Activate fetches once right away and then on every tick. The polling
// goroutine outlives ctx cancellation but keeps its values. Calling Activate
// while active does nothing.
func (r *Reconciler) Activate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts.Active {
		return
	}
	r.generation++
	r.counts.Active = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(loopCtx, r.interval, r.done)
	r.logger.Info("unread polling started", slog.Duration("interval", r.interval))
}

// Deactivate stops polling and zeroes the published counts. Persisted state
// is left alone. It waits for the polling goroutine to exit.
func (r *Reconciler) Deactivate() {
	r.mu.Lock()
	if !r.counts.Active {
		r.mu.Unlock()
		return
	}
	r.generation++
	r.counts = Counts{}
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	<-done
	r.metrics.SetUnread(0, 0)
	r.logger.Info("unread polling stopped")
}

// SetAuthenticated maps the session signal onto Activate and Deactivate.
func (r *Reconciler) SetAuthenticated(ctx context.Context, authenticated bool) {
	if authenticated {
		r.Activate(ctx)
		return
	}
	r.Deactivate()
}

// Close is Deactivate.
func (r *Reconciler) Close() { r.Deactivate() }

// Snapshot returns the published counts.
func (r *Reconciler) Snapshot() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// Interval returns the current polling period.
func (r *Reconciler) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// SetInterval changes the polling period; a running ticker picks it up
// without an extra fetch. d <= 0 restores DefaultInterval.
func (r *Reconciler) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	r.mu.Lock()
	changed := r.interval != d
	r.interval = d
	r.mu.Unlock()
	if !changed {
		return
	}
	select {
	case r.rearm <- struct{}{}:
	default:
	}
}

// Refresh fetches the server total, reads the seen count and publishes
// max(0, total-seen). Overlapping calls are not serialized; the last one to
// finish wins. A result that lands after Deactivate is dropped.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if !r.counts.Active {
		r.mu.Unlock()
		return ErrInactive
	}
	generation := r.generation
	r.mu.Unlock()

	stats, err := r.source.ContactStats(ctx)
	if err != nil {
		return r.fail(fetchFailure(err))
	}
	seen, err := r.seen.SeenCount(ctx)
	if err != nil {
		return r.fail(storageFailure(err))
	}
	unread := max(stats.Total-seen, 0)

	r.mu.Lock()
	if r.generation != generation {
		active := r.counts.Active
		r.mu.Unlock()
		r.metrics.ObserveUnreadFetch(metrics.FetchDiscarded)
		r.logger.Debug("discarding stale unread stats", slog.Int("total", stats.Total))
		if !active {
			return ErrInactive
		}
		return nil
	}
	r.counts.Total = stats.Total
	r.counts.Unread = unread
	r.counts.LastFetched = r.now()
	r.mu.Unlock()

	r.metrics.ObserveUnreadFetch(metrics.FetchSuccess)
	r.metrics.SetUnread(stats.Total, unread)
	return nil
}

// MarkAllSeen persists the last fetched total as the seen count and drops the
// unread count to zero without fetching.
func (r *Reconciler) MarkAllSeen(ctx context.Context) error {
	r.mu.Lock()
	if !r.counts.Active {
		r.mu.Unlock()
		return ErrInactive
	}
	total := r.counts.Total
	r.mu.Unlock()

	if err := r.seen.SetSeenCount(ctx, total); err != nil {
		fe := storageFailure(err)
		r.logger.Warn("mark all seen failed", slog.Any("error", fe))
		return fe
	}

	r.mu.Lock()
	if r.counts.Active {
		r.counts.Unread = 0
	}
	published := r.counts
	r.mu.Unlock()
	r.metrics.SetUnread(published.Total, published.Unread)
	return nil
}

func (r *Reconciler) fail(fe *FetchError) error {
	r.metrics.ObserveUnreadFetch(metrics.FetchFailure)
	r.logger.Debug("unread refresh failed", slog.String("kind", string(fe.Kind)), slog.Any("error", fe.Err))
	return fe
}

func (r *Reconciler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	r.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		case <-r.rearm:
			ticker.Reset(r.Interval())
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrInactive) && ctx.Err() == nil {
		r.logger.Debug("unread poll failed", slog.Any("error", err))
	}
}
