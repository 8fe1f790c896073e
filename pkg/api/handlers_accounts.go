package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"outreach/pkg/account"
	"outreach/pkg/store"
)

type AccountHandler struct {
	svc     SessionService
	archive Archive
}

func NewAccountHandler(svc SessionService, archive Archive) *AccountHandler {
	return &AccountHandler{svc: svc, archive: archive}
}

// List handles GET /api/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.archive.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	current, err := h.archive.CurrentAccount(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"current":  current,
	})
}

// Delete handles DELETE /api/accounts/{id}
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.archive.DeleteAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Switch handles POST /api/accounts/{id}/switch
func (h *AccountHandler) Switch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.svc.SwitchAccount(r.Context(), id)
	switch {
	case errors.Is(err, account.ErrNeedsLogin):
		writeError(w, http.StatusPreconditionFailed, "account has no usable credentials; log in again")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
