package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the request cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup     CacheOperation = "lookup"
	CacheOperationStore      CacheOperation = "store"
	CacheOperationInvalidate CacheOperation = "invalidate"
	CacheOperationClear      CacheOperation = "clear"
)

// CacheResult captures the result of a cache operation.
type CacheResult string

const (
	// CacheHit indicates the lookup reused a cached response.
	CacheHit CacheResult = "hit"
	// CacheMiss indicates no valid cached response was present.
	CacheMiss CacheResult = "miss"
	// CacheOK indicates a store, invalidate or clear completed.
	CacheOK CacheResult = "ok"
	// CacheError indicates the backend failed.
	CacheError CacheResult = "error"
)

// FetchOutcome labels an unread stats fetch.
type FetchOutcome string

const (
	FetchSuccess   FetchOutcome = "success"
	FetchFailure   FetchOutcome = "failure"
	FetchDiscarded FetchOutcome = "discarded"
)

// Recorder publishes Prometheus metrics for dashboard activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	unreadFetches *prometheus.CounterVec
	unreadCount   prometheus.Gauge
	unreadTotal   prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashsync",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Request cache operations by key namespace.",
	}, []string{"namespace", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dashsync",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for request cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"namespace", "operation", "result"})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashsync",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests issued to the admin API.",
	}, []string{"resource", "outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dashsync",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for admin API requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"resource", "outcome"})

	unreadFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashsync",
		Subsystem: "unread",
		Name:      "fetches_total",
		Help:      "Unread stats fetches by outcome.",
	}, []string{"outcome"})

	unreadCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dashsync",
		Subsystem: "unread",
		Name:      "messages",
		Help:      "Last published unread message count.",
	})

	unreadTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dashsync",
		Subsystem: "unread",
		Name:      "total_messages",
		Help:      "Last fetched server message total.",
	})

	reg.MustRegister(cacheOperations, cacheLatency, upstreamRequests, upstreamLatency, unreadFetches, unreadCount, unreadTotal)

	return &Recorder{
		gatherer:         reg,
		handler:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
		unreadFetches:    unreadFetches,
		unreadCount:      unreadCount,
		unreadTotal:      unreadTotal,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCache records one request cache operation.
func (r *Recorder) ObserveCache(namespace string, operation CacheOperation, result CacheResult, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(CacheMiss)
	}
	nsLabel := normalizeLabel(namespace)
	r.cacheOperations.WithLabelValues(nsLabel, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(nsLabel, opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveUpstream records the outcome and latency of one admin API call.
func (r *Recorder) ObserveUpstream(resource, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	resLabel := normalizeLabel(resource)
	outLabel := normalizeLabel(outcome)
	r.upstreamRequests.WithLabelValues(resLabel, outLabel).Inc()
	r.upstreamLatency.WithLabelValues(resLabel, outLabel).Observe(duration.Seconds())
}

// ObserveUnreadFetch counts a stats fetch by outcome.
func (r *Recorder) ObserveUnreadFetch(outcome FetchOutcome) {
	if r == nil {
		return
	}
	r.unreadFetches.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

// SetUnread publishes the current badge values.
func (r *Recorder) SetUnread(total, unread int) {
	if r == nil {
		return
	}
	r.unreadTotal.Set(float64(total))
	r.unreadCount.Set(float64(unread))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
