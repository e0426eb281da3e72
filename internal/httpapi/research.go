// Package httpapi exposes research tasks, the model catalog and live task
// events over HTTP, SSE and WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/auth"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/streaming"
)

// Options tunes request defaults and streaming.
type Options struct {
	DefaultPreset    string
	SubscriberBuffer int
	Heartbeat        time.Duration
	AllowedOrigins   []string
}

// Handler serves the research API.
type Handler struct {
	orch    *research.Orchestrator
	catalog *models.Catalog
	events  *streaming.Manager
	opts    Options
	logger  *zap.Logger
}

// NewHandler builds the API handler.
func NewHandler(orch *research.Orchestrator, catalog *models.Catalog, events *streaming.Manager, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{orch: orch, catalog: catalog, events: events, opts: opts, logger: logger}
}

// RegisterRoutes registers the API and stream routes behind mw.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	read := func(fn http.HandlerFunc) http.Handler {
		return mw.HTTPMiddleware(auth.RequireScope(auth.ScopeResearchRead, fn))
	}
	write := func(fn http.HandlerFunc) http.Handler {
		return mw.HTTPMiddleware(auth.RequireScope(auth.ScopeResearchWrite, fn))
	}

	mux.Handle("POST /api/v1/research", write(h.createResearch))
	mux.Handle("GET /api/v1/research", read(h.listResearch))
	mux.Handle("GET /api/v1/research/{id}", read(h.getResearch))
	mux.Handle("DELETE /api/v1/research/{id}", write(h.deleteResearch))
	mux.Handle("GET /api/v1/models", read(h.listModels))
	mux.Handle("GET /api/v1/presets", read(h.listPresets))
	mux.Handle("GET /stream/sse", read(h.handleSSE))
	mux.Handle("GET /stream/ws", read(h.handleWS))
}

type createRequest struct {
	Query         string                `json:"query"`
	Mode          models.Mode           `json:"mode"`
	Preset        string                `json:"preset"`
	Models        models.ResearchModels `json:"models"`
	CriticEnabled *bool                 `json:"critic_enabled"`
}

type createResponse struct {
	TaskID string                `json:"task_id"`
	Mode   models.Mode           `json:"mode"`
	Models models.ResearchModels `json:"models"`
}

func (h *Handler) createResearch(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+sanitizeErr(err.Error()))
		return
	}
	if req.Mode == "" {
		req.Mode = models.ModeDeep
	}

	resolved, err := h.catalog.ResolveModels(req.Preset, h.opts.DefaultPreset, req.Models)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.orch.StartResearch(r.Context(), research.Request{
		Query:         req.Query,
		Mode:          req.Mode,
		Models:        resolved,
		CriticEnabled: req.CriticEnabled,
	})
	switch {
	case errors.Is(err, research.ErrInvalidQuery),
		errors.Is(err, research.ErrInvalidMode),
		errors.Is(err, research.ErrMissingModel):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to start research", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not persist research task")
		return
	}

	w.Header().Set("Location", "/api/v1/research/"+id)
	writeJSON(w, http.StatusAccepted, createResponse{TaskID: id, Mode: req.Mode, Models: resolved})
}

type listResponse struct {
	Tasks []*models.ResearchTask `json:"tasks"`
	Count int                    `json:"count"`
}

func (h *Handler) listResearch(w http.ResponseWriter, r *http.Request) {
	tasks := h.orch.Tasks()
	if status := models.Status(r.URL.Query().Get("status")); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *Handler) getResearch(w http.ResponseWriter, r *http.Request) {
	task, err := h.orch.Task(r.Context(), r.PathValue("id"))
	if errors.Is(err, research.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "research task not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load research task", zap.String("task_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load research task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) deleteResearch(w http.ResponseWriter, r *http.Request) {
	err := h.orch.DeleteTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, research.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "research task not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete research task", zap.String("task_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete research task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	list := h.catalog.All()
	if c := strings.TrimSpace(r.URL.Query().Get("capability")); c != "" {
		list = h.catalog.ModelsFor(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": list})
}

func (h *Handler) listPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": h.catalog.Presets(),
		"default": h.opts.DefaultPreset,
	})
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
