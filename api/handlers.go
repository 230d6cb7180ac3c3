// Package api exposes run control over HTTP: start a run, watch its progress
// and cancel it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/pipeline"
)

// RunFactory builds a fresh pipeline reporting to observer.
type RunFactory func(observer pipeline.Observer) *pipeline.Pipeline

type Handlers struct {
	newRun RunFactory
	base   context.Context
	logger *slog.Logger

	mu         sync.Mutex
	current    *pipeline.Pipeline
	lastStatus string
	result     *models.RunResult
}

// NewHandlers serves runs built by newRun. Runs are bound to base, not to the
// request that started them.
func NewHandlers(base context.Context, newRun RunFactory, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		newRun: newRun,
		base:   base,
		logger: logger,
	}
}

// StartRunRequest is the body of POST /runs.
type StartRunRequest struct {
	URLs []string `json:"urls"`
}

// RunResponse describes the current run.
type RunResponse struct {
	RunID      string          `json:"run_id"`
	State      string          `json:"state"`
	Progress   ProgressPayload `json:"progress"`
	LastStatus string          `json:"last_status,omitempty"`
	Result     *ResultPayload  `json:"result,omitempty"`
}

type ProgressPayload struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

type ResultPayload struct {
	Records       int                 `json:"records"`
	Fetched       int                 `json:"fetched"`
	FetchFailed   int                 `json:"fetch_failed"`
	Skipped       int                 `json:"skipped"`
	PersistErrors int                 `json:"persist_errors"`
	FailedURLs    []string            `json:"failed_urls,omitempty"`
	Export        *models.ExportPaths `json:"export,omitempty"`
	ExportError   string              `json:"export_error,omitempty"`
	Duration      string              `json:"duration"`
}

// StartRun handles POST /runs.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	urls := make([]string, 0, len(req.URLs))
	seen := make(map[string]struct{}, len(req.URLs))
	for _, u := range req.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			h.respondError(w, http.StatusBadRequest, "duplicate url: "+u)
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && !h.current.State().Terminal() {
		h.respondError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	var p *pipeline.Pipeline
	p = h.newRun(pipeline.Observers{pipeline.ObserverFuncs{
		OnStatus:   func(message string) { h.recordStatus(p, message) },
		OnFinished: func(result *models.RunResult) { h.recordResult(p, result) },
	}})
	if err := p.Start(h.base, urls); err != nil {
		if errors.Is(err, pipeline.ErrNoURLs) {
			h.respondError(w, http.StatusBadRequest, "at least one url is required")
			return
		}
		h.logger.Error("failed to start run", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.current = p
	h.lastStatus = ""
	h.result = nil
	h.logger.Info("run started via api", slog.String("run_id", p.RunID()), slog.Int("urls", len(urls)))
	h.respondJSON(w, http.StatusAccepted, h.describe())
}

// GetCurrentRun handles GET /runs/current.
func (h *Handlers) GetCurrentRun(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		h.respondError(w, http.StatusNotFound, "no run has been started")
		return
	}
	h.respondJSON(w, http.StatusOK, h.describe())
}

// CancelCurrentRun handles DELETE /runs/current.
func (h *Handlers) CancelCurrentRun(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		h.respondError(w, http.StatusNotFound, "no run has been started")
		return
	}
	if h.current.State().Terminal() {
		h.respondError(w, http.StatusConflict, "run already finished")
		return
	}
	if err := h.current.Cancel(); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("run cancellation requested", slog.String("run_id", h.current.RunID()))
	h.respondJSON(w, http.StatusAccepted, h.describe())
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// describe must be called with h.mu held.
func (h *Handlers) describe() RunResponse {
	progress := h.current.Progress()
	resp := RunResponse{
		RunID: h.current.RunID(),
		State: h.current.State().String(),
		Progress: ProgressPayload{
			Completed: progress.Completed,
			Total:     progress.Total,
			Percent:   progress.Percent(),
		},
		LastStatus: h.lastStatus,
	}
	if h.result != nil {
		resp.Result = resultPayload(h.result)
	}
	return resp
}

// recordStatus and recordResult drop events from a run that is no longer current.
func (h *Handlers) recordStatus(from *pipeline.Pipeline, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != from {
		return
	}
	h.lastStatus = message
}

func (h *Handlers) recordResult(from *pipeline.Pipeline, result *models.RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != from {
		return
	}
	h.result = result
}

func resultPayload(r *models.RunResult) *ResultPayload {
	out := &ResultPayload{
		Records:       r.Records,
		Fetched:       r.Fetched,
		FetchFailed:   r.FetchFailed,
		Skipped:       r.Skipped,
		PersistErrors: r.PersistErrors,
		FailedURLs:    r.FailedURLs,
		Export:        r.Export,
		Duration:      r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String(),
	}
	if r.ExportErr != nil {
		out.ExportError = r.ExportErr.Error()
	}
	return out
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
