package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NewRouter mounts the application handler at the root and metrics at
// /metrics, wrapping both in the access log. A nil app answers 503.
func NewRouter(app, metrics http.Handler, logger *slog.Logger, correlationHeader string) http.Handler {
	if app == nil {
		app = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
		})
	}
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("/", app)
	return accessLog(mux, logger, strings.TrimSpace(correlationHeader))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// accessLog echoes the correlation header (minting one when absent) and logs
// one line per request.
func accessLog(next http.Handler, logger *slog.Logger, correlationHeader string) http.Handler {
	if logger == nil {
		return next
	}
	logger = logger.With(slog.String("agent", "http"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		correlationID := ""
		if correlationHeader != "" {
			correlationID = requestCorrelationID(r, correlationHeader)
			w.Header().Set(correlationHeader, correlationID)
		}
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
		}
		if correlationID != "" {
			attrs = append(attrs, slog.String("correlation_id", correlationID))
		}
		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "request served", attrs...)
	})
}

func requestCorrelationID(r *http.Request, header string) string {
	if candidate := strings.TrimSpace(r.Header.Get(header)); candidate != "" {
		return candidate
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
