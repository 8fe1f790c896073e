package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"outreach/pkg/logging"
	"outreach/pkg/outreach"
)

type GreetingHandler struct {
	svc     GreetingService
	archive Archive
}

func NewGreetingHandler(svc GreetingService, archive Archive) *GreetingHandler {
	return &GreetingHandler{svc: svc, archive: archive}
}

type startRequest struct {
	TargetCount    int      `json:"target_count"`
	PositionFilter []string `json:"position_filter"`
	Message        string   `json:"message"`
}

type startResponse struct {
	RunID string            `json:"run_id"`
	Task  outreach.Snapshot `json:"task"`
}

// Status handles GET /api/greeting/status
func (h *GreetingHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Start handles POST /api/greeting/start
func (h *GreetingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	runID, err := h.svc.Start(outreach.Params{
		TargetCount:    req.TargetCount,
		PositionFilter: req.PositionFilter,
		Message:        req.Message,
	})
	switch {
	case errors.Is(err, outreach.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, outreach.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed, "no authenticated session; log in first")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, startResponse{RunID: runID, Task: h.svc.Snapshot()})
}

// Stop handles POST /api/greeting/stop
func (h *GreetingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(); err != nil {
		if errors.Is(err, outreach.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Reset handles POST /api/greeting/reset
func (h *GreetingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(); err != nil {
		if errors.Is(err, outreach.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// ForceReset handles POST /api/greeting/force-reset
func (h *GreetingHandler) ForceReset(w http.ResponseWriter, r *http.Request) {
	h.svc.ForceReset()
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Logs handles GET /api/greeting/logs
func (h *GreetingHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", logging.DefaultRingCapacity)
	writeJSON(w, http.StatusOK, map[string]any{"lines": h.svc.Logs(limit)})
}

// Runs handles GET /api/greeting/runs
func (h *GreetingHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	runs, err := h.archive.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// RunLogs handles GET /api/greeting/runs/{id}/logs
func (h *GreetingHandler) RunLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 500)
	lines, err := h.archive.RunLogs(r.Context(), runID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "lines": lines})
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
