// Package api exposes the engine's status surface over HTTP: sync state,
// queue contents, conflict management, and manual sync triggering. It is a
// local control plane, not a public service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dojoverse/dojosync/internal/conflict"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/queue"
	syncpkg "github.com/dojoverse/dojosync/internal/sync"
)

// Handler serves the status API.
type Handler struct {
	engine    syncpkg.Engine
	queue     *queue.Queue
	conflicts *conflict.Detector
}

// NewHandler creates a Handler.
func NewHandler(engine syncpkg.Engine, q *queue.Queue, detector *conflict.Detector) *Handler {
	return &Handler{engine: engine, queue: q, conflicts: detector}
}

// NewRouter creates the router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", h.SyncStatus)
			r.Get("/results", h.SyncResults)
			r.Post("/trigger", h.TriggerSync)
			r.Post("/pause", h.PauseSync)
			r.Post("/resume", h.ResumeSync)
		})

		r.Get("/queue", h.QueueContents)

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", h.Conflicts)
			r.Post("/{id}/resolve", h.ResolveConflict)
		})
	})

	return r
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncStatusResponse is the GET /sync/status payload.
type syncStatusResponse struct {
	Status            syncpkg.Status `json:"status"`
	Paused            bool           `json:"paused"`
	LastSync          *time.Time     `json:"last_sync,omitempty"`
	PendingOperations int            `json:"pending_operations"`
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.PendingCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncStatusResponse{
		Status:            h.engine.Status(),
		Paused:            h.engine.Paused(),
		LastSync:          h.engine.LastSync(),
		PendingOperations: pending,
	})
}

// SyncResults handles GET /api/v1/sync/results.
func (h *Handler) SyncResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Results())
}

// TriggerSync handles POST /api/v1/sync/trigger. The pass runs in the
// background; an already-running pass yields 409.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.engine.Status() == syncpkg.StatusSyncing {
		writeError(w, errors.New(errors.ErrSyncInProgress, "a sync pass is already running"))
		return
	}

	// The pass outlives this request: net/http cancels r.Context() the
	// moment the handler returns, so the background pass must not inherit
	// its cancellation. Request values (request id) are kept.
	go h.engine.FullSync(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// PauseSync handles POST /api/v1/sync/pause.
func (h *Handler) PauseSync(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeSync handles POST /api/v1/sync/resume.
func (h *Handler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// QueueContents handles GET /api/v1/queue.
func (h *Handler) QueueContents(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// Conflicts handles GET /api/v1/conflicts.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	unresolved, err := h.conflicts.Unresolved(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unresolved)
}

// ResolveConflict handles POST /api/v1/conflicts/{id}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.conflicts.MarkResolved(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrPermission:
		status = http.StatusForbidden
	case errors.ErrSyncInProgress, errors.ErrSyncConflict:
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}

// loggingMiddleware logs each request with its duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug("Request handled", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
