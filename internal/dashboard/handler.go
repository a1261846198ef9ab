package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/dashsync/internal/adminapi"
	"github.com/l0p7/dashsync/internal/unread"
)

const maxBodyBytes = 1 << 20

// Handler routes the dashboard API under /api.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contacts", s.serveContacts)
	mux.HandleFunc("GET /api/contacts/stats", s.serveContactStats)
	mux.HandleFunc("GET /api/contacts/read-ids", s.serveReadIDs)
	mux.HandleFunc("POST /api/contacts/{id}/open", s.serveOpen)
	mux.HandleFunc("POST /api/contacts/read-all", s.serveReadAll)

	mux.HandleFunc("GET /api/admin/stats", s.serveRaw(s.AdminStats))
	mux.HandleFunc("GET /api/admin/new-groups", s.serveRaw(s.NewGroups))
	mux.HandleFunc("GET /api/admin/groups/expiring-soon", s.serveRaw(s.ExpiringSoon))

	mux.HandleFunc("GET /api/unread", s.serveUnread)
	mux.HandleFunc("POST /api/unread/refresh", s.serveUnreadRefresh)
	mux.HandleFunc("POST /api/unread/seen", s.serveUnreadSeen)

	mux.HandleFunc("POST /api/session", s.serveSession(true))
	mux.HandleFunc("DELETE /api/session", s.serveSession(false))

	mux.HandleFunc("POST /api/cache/invalidate", s.serveInvalidate)
	mux.HandleFunc("DELETE /api/cache", s.serveClear)

	mux.HandleFunc("GET /healthz", s.serveHealth)
	return mux
}

func (s *Service) serveContacts(w http.ResponseWriter, r *http.Request) {
	msgType, err := adminapi.ParseMessageType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.AnnotatedContacts(r.Context(), msgType)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Service) serveContactStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ContactStats(r.Context())
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Service) serveRaw(fetch func(context.Context) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := fetch(r.Context())
		if err != nil {
			s.writeUpstreamError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, payload)
	}
}

func (s *Service) serveReadIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.inbox.ReadIDs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Service) serveOpen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message id %q", r.PathValue("id")))
		return
	}
	if err := s.inbox.Open(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.reconciler.Snapshot())
}

type readAllRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Service) serveReadAll(w http.ResponseWriter, r *http.Request) {
	msgType, err := adminapi.ParseMessageType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req readAllRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	marked, err := s.MarkAllRead(r.Context(), msgType, req.IDs)
	var fetchErr *unread.FetchError
	switch {
	case err == nil, errors.Is(err, unread.ErrInactive):
	case errors.As(err, &fetchErr):
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"marked": marked, "unread": s.reconciler.Snapshot()})
}

func (s *Service) serveUnread(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reconciler.Snapshot())
}

func (s *Service) serveUnreadRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.reconciler.Refresh(r.Context()); err != nil && !errors.Is(err, unread.ErrInactive) {
		s.logger.Debug("manual unread refresh failed", slog.Any("error", err))
	}
	s.writeJSON(w, http.StatusOK, s.reconciler.Snapshot())
}

func (s *Service) serveUnreadSeen(w http.ResponseWriter, r *http.Request) {
	if err := s.reconciler.MarkAllSeen(r.Context()); err != nil && !errors.Is(err, unread.ErrInactive) {
		s.logger.Warn("mark all seen failed", slog.Any("error", err))
	}
	s.writeJSON(w, http.StatusOK, s.reconciler.Snapshot())
}

func (s *Service) serveSession(authenticated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.reconciler.SetAuthenticated(r.Context(), authenticated)
		s.writeJSON(w, http.StatusOK, s.reconciler.Snapshot())
	}
}

type invalidateRequest struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
}

func (s *Service) serveInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, pattern := strings.TrimSpace(req.Key), strings.TrimSpace(req.Pattern)
	var err error
	switch {
	case key != "" && pattern != "":
		s.writeError(w, http.StatusBadRequest, "key and pattern are mutually exclusive")
		return
	case key != "":
		err = s.cache.Invalidate(r.Context(), key)
	case pattern != "":
		re, compileErr := regexp.Compile(pattern)
		if compileErr != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid pattern: %v", compileErr))
			return
		}
		err = s.cache.InvalidatePattern(r.Context(), re)
	default:
		s.writeError(w, http.StatusBadRequest, "key or pattern required")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) serveClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveHealth reports cache occupancy and badge state. A failing cache backend
// degrades the status without failing the probe.
func (s *Service) serveHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":     "ok",
		"unread":     s.reconciler.Snapshot(),
		"observedAt": time.Now().UTC(),
	}
	size, err := s.cache.Size(r.Context())
	if err != nil {
		s.logger.Error("cache size query failed", slog.Any("error", err))
		status["status"] = "degraded"
	} else {
		status["cacheEntries"] = size
	}
	s.writeJSON(w, http.StatusOK, status)
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid request body: %w", err)
}

func (s *Service) writeUpstreamError(w http.ResponseWriter, err error) {
	s.logger.Warn("admin api read failed", slog.Any("error", err))
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", slog.Any("error", err))
	}
}
