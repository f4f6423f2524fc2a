package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/rajasatyajit/storeforge/internal/auth"
	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/logger"
	"github.com/rajasatyajit/storeforge/internal/quota"
	"github.com/rajasatyajit/storeforge/pkg/utils"
)

type generateStoreRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// StoreResponse is the body of a successful POST /v1/generate-store.
type StoreResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	Status    string `json:"status"`
}

// parseProductURL accepts absolute http(s) URLs with a host.
func parseProductURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// POST /v1/generate-store
// Quota is enforced by the guard in front; this records the store so it
// counts toward the monthly ceiling.
func (h *Handler) generateStoreHandler(w http.ResponseWriter, r *http.Request) {
	var body generateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	u, ok := parseProductURL(body.URL)
	if !ok {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "url must be an absolute http or https URL")
		return
	}

	name := utils.Slugify(body.Name)
	if name == "" {
		name = utils.Slugify(strings.TrimPrefix(u.Hostname(), "www."))
	}

	id := auth.IdentityFrom(r.Context())
	st := quota.StoreCreation{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		SourceURL: u.String(),
		Name:      name,
		CreatedAt: h.limiter.Now(),
	}
	if err := h.store.RecordStore(r.Context(), st); err != nil {
		h.writeDomainError(w, r, apperrors.Unavailable(err))
		return
	}

	logger.WithContext(r.Context()).Info("store generation accepted", "store_id", st.ID, "name", name)
	h.writeJSONResponse(w, http.StatusCreated, StoreResponse{
		ID:        st.ID,
		Name:      st.Name,
		SourceURL: st.SourceURL,
		Status:    "queued",
	})
}
