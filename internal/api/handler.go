package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/storeforge/internal/auth"
	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/logger"
	middlewares "github.com/rajasatyajit/storeforge/internal/middleware"
	"github.com/rajasatyajit/storeforge/internal/quota"
	"github.com/rajasatyajit/storeforge/internal/store"
)

// Config carries the handler settings that come from the process config.
type Config struct {
	AdminSecret string
	KeyEnv      string
	SessionTTL  time.Duration
	RouteLimit  quota.RouteLimit
	Version     string
	BuildTime   string
	GitCommit   string
}

// Handler handles HTTP requests for the API
type Handler struct {
	store     store.Store
	limiter   *quota.Limiter
	guard     *middlewares.QuotaGuard
	resolver  auth.Resolver
	keys      auth.KeyStore
	sessions  *auth.SessionIssuer
	cfg       Config
	startTime time.Time
}

// NewHandler creates a new API handler. sessions may be nil when session
// tokens are not configured.
func NewHandler(st store.Store, limiter *quota.Limiter, resolver auth.Resolver, keys auth.KeyStore, sessions *auth.SessionIssuer, cfg Config) *Handler {
	if cfg.KeyEnv == "" {
		cfg.KeyEnv = "live"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		store:     st,
		limiter:   limiter,
		guard:     middlewares.NewQuotaGuard(limiter),
		resolver:  resolver,
		keys:      keys,
		sessions:  sessions,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Guard returns the quota guard so shutdown can drain pending usage writes.
func (h *Handler) Guard() *middlewares.QuotaGuard { return h.guard }

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)
		r.Get("/version", h.versionHandler)
		r.Get("/plans", h.plansHandler)

		r.Group(func(r chi.Router) {
			r.Use(middlewares.Authenticate(h.resolver))

			// Quota status is free; it does not count toward any ceiling.
			r.Get("/quota", h.quotaHandler)

			r.With(h.guard.Enforce(h.cfg.RouteLimit)).Post("/generate-store", h.generateStoreHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewares.AdminSecret(h.cfg.AdminSecret))
			r.Put("/users/{user_id}", h.adminUpsertUser)
			r.Get("/users/{user_id}/usage", h.adminUserUsage)
			r.Post("/users/{user_id}/keys", h.adminCreateKey)
			r.Post("/users/{user_id}/sessions", h.adminCreateSession)
			r.Post("/keys/{key_id}/revoke", h.adminRevokeKey)
		})
	})

	r.Get("/health", h.healthHandler)
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.cfg.Version,
	})
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"ledger": "ok"}
	statusCode := http.StatusOK

	if err := h.store.Health(r.Context()); err != nil {
		checks["ledger"] = "error: " + err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	status := "ready"
	if statusCode != http.StatusOK {
		status = "not_ready"
	}
	h.writeJSONResponse(w, statusCode, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"version":    h.cfg.Version,
		"build_time": h.cfg.BuildTime,
		"git_commit": h.cfg.GitCommit,
	})
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrUnauthenticated):
		h.writeErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, apperrors.ErrUnknownUser):
		h.writeErrorResponse(w, r, http.StatusForbidden, "no plan is on record for this user")
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, apperrors.ErrInvalidInput):
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrPersistenceUnavailable):
		logger.WithContext(r.Context()).Error("ledger unavailable", "error", err)
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "usage ledger unavailable, try again shortly")
	default:
		logger.WithContext(r.Context()).Error("request failed", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "internal error")
	}
}

// ErrorResponse represents an API error response
type ErrorResponse = middlewares.ErrorResponse
