package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/storeforge/internal/auth"
	"github.com/rajasatyajit/storeforge/internal/logger"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// QuotaGuard turns limiter decisions into HTTP responses and records the
// outcome of every request it lets through.
type QuotaGuard struct {
	limiter *quota.Limiter
	pending sync.WaitGroup
}

func NewQuotaGuard(l *quota.Limiter) *QuotaGuard {
	return &QuotaGuard{limiter: l}
}

// Rejection is a ready-to-send denial.
type Rejection struct {
	Status     int
	Reason     quota.Reason
	Message    string
	Limit      int
	ResetAt    time.Time
	RetryAfter int
}

// RejectionBody is the JSON body of a denial.
type RejectionBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Reason     string `json:"reason"`
}

// Send writes the rejection. Ceiling denials carry the rate-limit headers.
func (rj *Rejection) Send(w http.ResponseWriter) {
	if rj.Status == http.StatusTooManyRequests {
		h := w.Header()
		h.Set(HeaderLimit, strconv.Itoa(rj.Limit))
		h.Set(HeaderRemaining, "0")
		h.Set(HeaderReset, strconv.FormatInt(rj.ResetAt.Unix(), 10))
		h.Set(HeaderRetryAfter, strconv.Itoa(rj.RetryAfter))
	}
	writeJSON(w, rj.Status, RejectionBody{
		Error:      rj.Message,
		RetryAfter: rj.RetryAfter,
		Reason:     string(rj.Reason),
	})
}

// Ticket is handed out for an allowed request. Finish must be called once
// the outcome is known; later calls are ignored.
type Ticket struct {
	guard    *QuotaGuard
	id       *quota.Identity
	req      quota.Request
	decision quota.Decision
	r        *http.Request
	once     sync.Once
}

func (t *Ticket) Decision() quota.Decision { return t.decision }

// SetHeaders writes the rate-limit headers for an allowed request.
func (t *Ticket) SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(t.decision.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(t.decision.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(t.decision.ResetAt.Unix(), 10))
}

// Finish records the request outcome in the background.
// Statuses below 400 count as successful.
func (t *Ticket) Finish(status int) {
	t.once.Do(func() {
		req := t.req
		req.Success = status < http.StatusBadRequest
		t.guard.record(t.r, t.id, req)
	})
}

// Wait blocks until every pending usage write has finished.
func (g *QuotaGuard) Wait() {
	g.pending.Wait()
}

func (g *QuotaGuard) record(r *http.Request, id *quota.Identity, req quota.Request) {
	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		g.limiter.LogRequest(r.Context(), id, req)
	}()
}

// Check evaluates the request against the caller's plan and route.
// Exactly one of the results is non-nil.
func (g *QuotaGuard) Check(r *http.Request, route quota.RouteLimit) (*Ticket, *Rejection) {
	id := auth.IdentityFrom(r.Context())
	req := quota.Request{
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}

	d := g.limiter.EvaluateRoute(r.Context(), id, req.Endpoint, route)
	if d.Allowed {
		return &Ticket{guard: g, id: id, req: req, decision: d, r: r}, nil
	}

	rj := &Rejection{Reason: d.Reason, Limit: d.Limit, ResetAt: d.ResetAt}
	switch {
	case d.Reason == quota.ReasonUnauthenticated:
		rj.Status, rj.Message = http.StatusUnauthorized, "authentication required"
	case d.Reason == quota.ReasonUnknownUser:
		rj.Status, rj.Message = http.StatusForbidden, "no plan is on record for this user"
	case d.Reason.IsCeiling():
		rj.Status = http.StatusTooManyRequests
		rj.RetryAfter = retryAfterSeconds(d, g.limiter.Now())
		rj.Message = ceilingMessage(d.Reason, rj.RetryAfter)
	default:
		rj.Status, rj.Message = http.StatusServiceUnavailable, "usage ledger unavailable, try again shortly"
	}

	// Every request past identity resolution leaves one event, allowed or not.
	if id != nil && id.UserID != "" {
		g.record(r, id, req)
	}
	return nil, rj
}

// Enforce wraps Check as middleware.
func (g *QuotaGuard) Enforce(route quota.RouteLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, rj := g.Check(r, route)
			if rj != nil {
				if rj.Status >= http.StatusInternalServerError {
					logger.WithContext(r.Context()).Warn("quota guard failed closed", "path", r.URL.Path)
				}
				rj.Send(w)
				return
			}

			t.SetHeaders(w)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					t.Finish(http.StatusInternalServerError)
					panic(rec)
				}
			}()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			t.Finish(status)
		})
	}
}

func retryAfterSeconds(d quota.Decision, now time.Time) int {
	secs := int(d.RetryAfter(now) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func ceilingMessage(reason quota.Reason, retryAfter int) string {
	var what string
	switch reason {
	case quota.ReasonHourly:
		what = "hourly request limit reached"
	case quota.ReasonDaily:
		what = "daily request limit reached"
	case quota.ReasonMonthly:
		what = "monthly store generation limit reached"
	default:
		what = "rate limit exceeded"
	}
	return what + ", retry in " + strconv.Itoa(retryAfter) + " seconds"
}
