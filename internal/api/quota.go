package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/rajasatyajit/storeforge/internal/auth"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

// PlanInfo is one row of GET /v1/plans.
type PlanInfo struct {
	Name quota.Plan `json:"name"`
	quota.PlanQuota
}

// Window describes one ceiling and how much of it is used.
type Window struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

func newWindow(limit, used int, reset time.Time) Window {
	rem := limit - used
	if rem < 0 {
		rem = 0
	}
	return Window{Limit: limit, Used: used, Remaining: rem, Reset: reset}
}

// QuotaStatus is the body of GET /v1/quota. Stores is omitted when the
// requested endpoint is not a store-generation endpoint.
type QuotaStatus struct {
	Plan     quota.Plan `json:"plan"`
	Endpoint string     `json:"endpoint,omitempty"`
	Stores   *Window    `json:"stores,omitempty"`
	Hourly   Window     `json:"hourly"`
	Daily    Window     `json:"daily"`
}

func (h *Handler) statusFromStats(s quota.Stats, endpoint string) QuotaStatus {
	st := QuotaStatus{
		Plan:     s.Plan,
		Endpoint: endpoint,
		Hourly:   newWindow(s.Quota.RequestsPerHour, s.HourlyRequests, s.HourlyReset),
		Daily:    newWindow(s.Quota.RequestsPerDay, s.DailyRequests, s.DailyReset),
	}
	if endpoint == "" || h.limiter.IsGeneration(endpoint) {
		stores := newWindow(s.Quota.StoresPerMonth, s.MonthlyStores, s.MonthlyReset)
		st.Stores = &stores
	}
	return st
}

// GET /v1/plans
func (h *Handler) plansHandler(w http.ResponseWriter, r *http.Request) {
	table := h.limiter.Plans()
	plans := make([]PlanInfo, 0)
	for name, q := range table.Plans() {
		plans = append(plans, PlanInfo{Name: name, PlanQuota: q})
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Name < plans[j].Name })

	h.writeJSONResponse(w, http.StatusOK, map[string]any{
		"plans":   plans,
		"default": table.Fallback(),
	})
}

// GET /v1/quota[?endpoint=/v1/generate-store]
// Without an endpoint the request counts span every endpoint; with one they
// match exactly what the limiter counts for that endpoint.
func (h *Handler) quotaHandler(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	endpoint := r.URL.Query().Get("endpoint")

	var (
		stats quota.Stats
		err   error
	)
	if endpoint == "" {
		stats, err = h.limiter.UsageStats(r.Context(), id)
	} else {
		stats, err = h.limiter.EndpointStats(r.Context(), id, endpoint)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.statusFromStats(stats, endpoint))
}
