package api

import (
	"net/http"
)

type HealthHandler struct {
	greeting GreetingService
	session  SessionService
	archive  Archive
}

func NewHealthHandler(greeting GreetingService, session SessionService, archive Archive) *HealthHandler {
	return &HealthHandler{greeting: greeting, session: session, archive: archive}
}

type healthResponse struct {
	Status  string `json:"status"`
	Task    string `json:"task"`
	Session string `json:"session"`
	Store   string `json:"store,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Task:    string(h.greeting.Snapshot().Status),
		Session: string(h.session.Snapshot().Status),
	}

	if _, err := h.archive.ListRuns(r.Context(), 1); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
