package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rajasatyajit/storeforge/internal/auth"
	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

// lookupUser loads a user for the admin routes, writing 404/503 itself.
func (h *Handler) lookupUser(w http.ResponseWriter, r *http.Request) (quota.User, bool) {
	u, err := h.store.LookupUser(r.Context(), chi.URLParam(r, "user_id"))
	if errors.Is(err, apperrors.ErrNotFound) {
		h.writeErrorResponse(w, r, http.StatusNotFound, "user not found")
		return quota.User{}, false
	}
	if err != nil {
		h.writeDomainError(w, r, apperrors.Unavailable(err))
		return quota.User{}, false
	}
	return u, true
}

// PUT /v1/admin/users/{user_id}
func (h *Handler) adminUpsertUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string     `json:"email"`
		Plan  quota.Plan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, known := h.limiter.Plans().Plans()[body.Plan]; !known {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "unknown plan "+string(body.Plan))
		return
	}

	u := quota.User{ID: chi.URLParam(r, "user_id"), Email: body.Email, Plan: body.Plan}
	if err := h.store.UpsertUser(r.Context(), u); err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			h.writeDomainError(w, r, err)
			return
		}
		h.writeDomainError(w, r, apperrors.Unavailable(err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, u)
}

// GET /v1/admin/users/{user_id}/usage
func (h *Handler) adminUserUsage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	stats, err := h.limiter.UsageStats(r.Context(), &quota.Identity{UserID: u.ID})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.statusFromStats(stats, ""))
}

// POST /v1/admin/users/{user_id}/keys
func (h *Handler) adminCreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
		Env   string `json:"env"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Env == "" {
		body.Env = h.cfg.KeyEnv
	}

	u, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	raw, rec, err := auth.IssueKey(r.Context(), h.keys, u.ID, body.Label, body.Env)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, map[string]any{
		"api_key": raw,
		"key_id":  rec.ID,
		"user_id": rec.UserID,
		"label":   rec.Label,
	})
}

// POST /v1/admin/keys/{key_id}/revoke
func (h *Handler) adminRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	if err := h.keys.RevokeKey(r.Context(), keyID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeErrorResponse(w, r, http.StatusNotFound, "key not found")
			return
		}
		h.writeErrorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]any{"status": auth.KeyRevoked, "key_id": keyID})
}

// POST /v1/admin/users/{user_id}/sessions
func (h *Handler) adminCreateSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeErrorResponse(w, r, http.StatusNotImplemented, "session tokens are not configured")
		return
	}
	var body struct {
		TTL string `json:"ttl"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	ttl := h.cfg.SessionTTL
	if body.TTL != "" {
		d, err := time.ParseDuration(body.TTL)
		if err != nil || d <= 0 {
			h.writeErrorResponse(w, r, http.StatusBadRequest, "ttl must be a positive duration")
			return
		}
		ttl = d
	}

	u, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	token, exp, err := h.sessions.Issue(u.ID, u.Email, u.Plan, ttl)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": exp,
		"user_id":    u.ID,
	})
}
