package api

import (
	"errors"
	"net/http"

	"outreach/pkg/account"
)

type AuthHandler struct {
	svc SessionService
}

func NewAuthHandler(svc SessionService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type loginRequest struct {
	AccountID string `json:"account_id"`
}

// Session handles GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	snap, err := h.svc.BeginLogin(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// QRCode handles GET /api/auth/qrcode
func (h *AuthHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	if snap.ChallengeQR == "" {
		writeError(w, http.StatusNotFound, "no login challenge in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrcode": snap.ChallengeQR})
}

// Poll handles GET /api/auth/poll
func (h *AuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.PollChallenge(r.Context())
	switch {
	case errors.Is(err, account.ErrNoChallenge):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, account.ErrChallengeExpired):
		writeError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Verify handles POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	valid, err := h.svc.VerifySession(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   valid,
		"session": h.svc.Snapshot(),
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}
