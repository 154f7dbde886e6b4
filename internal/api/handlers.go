package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hoardlabs/hoard/internal/dispatch"
	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/store"
)

// ToolsHandler exposes the dispatch registry over HTTP: one POST per tool,
// arguments as the JSON body. The HTTP surface and the MCP stdio surface
// are thin shells around the same registry.
type ToolsHandler struct {
	registry *dispatch.Registry
}

func NewToolsHandler(registry *dispatch.Registry) *ToolsHandler {
	return &ToolsHandler{registry: registry}
}

func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
	}
	tools := h.registry.Tools()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{Name: t.Name, Kind: string(t.Kind), Description: t.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (h *ToolsHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	args := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	result, err := h.registry.Dispatch(r.Context(), name, args)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// HealthHandler reports liveness plus dependency state.
type HealthHandler struct {
	db          *store.DB
	embedClient *embedding.Client
	version     string
}

func NewHealthHandler(db *store.DB, embedClient *embedding.Client, version string) *HealthHandler {
	return &HealthHandler{db: db, embedClient: embedClient, version: version}
}

type serviceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status      string       `json:"status"`
	Version     string       `json:"version"`
	DB          serviceCheck `json:"db"`
	Embedding   serviceCheck `json:"embedding"`
	PendingJobs int          `json:"pendingJobs"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.version}

	n, err := store.PendingJobCount(h.db)
	if err != nil {
		resp.DB = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = serviceCheck{Status: "ok"}
		resp.PendingJobs = n
	}

	// Embedding is optional infrastructure: a dead backend degrades search
	// and dedup but never blocks writes, so it does not fail the check.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.embedClient.HealthCheck(ctx); err != nil {
		resp.Embedding = serviceCheck{Status: "error", Message: err.Error()}
	} else {
		resp.Embedding = serviceCheck{Status: "ok"}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDispatchError maps the error taxonomy onto HTTP statuses. Retryable
// conditions get 503 plus Retry-After so well-behaved clients back off.
func writeDispatchError(w http.ResponseWriter, err error) {
	code := dispatch.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "integrity_violation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "precondition_missed", "singleton_conflict":
		status = http.StatusConflict
	case "lock_unavailable", "transient_busy", "storage_unavailable":
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
