package quota

import (
	"context"
	"time"
)

// Identity is the authenticated caller. Plan is informational; enforcement
// uses the plan stored on the user record.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Plan   Plan   `json:"plan,omitempty"`
}

// User is the persisted user/plan record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  Plan   `json:"plan"`
}

// UsageEvent is one append-only ledger row.
type UsageEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Success   bool      `json:"success"`
	ClientIP  string    `json:"client_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreCreation is a generated store, counted toward the monthly ceiling.
type StoreCreation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SourceURL string    `json:"source_url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Request describes the outcome LogRequest records.
type Request struct {
	Endpoint  string
	Method    string
	Success   bool
	ClientIP  string
	UserAgent string
}

// UsageStore is what the limiter needs from persistence.
type UsageStore interface {
	// LookupUser returns errors.ErrNotFound when the user does not exist.
	LookupUser(ctx context.Context, userID string) (User, error)
	InsertUsage(ctx context.Context, ev UsageEvent) error
	// CountUsage counts events with Timestamp >= since. An empty endpoint counts all endpoints.
	// Timestamps are kept to the microsecond; the limiter only passes
	// microsecond-aligned times.
	CountUsage(ctx context.Context, userID, endpoint string, since time.Time) (int, error)
	CountStores(ctx context.Context, userID string, since time.Time) (int, error)
}

// Reason explains a decision.
type Reason string

const (
	ReasonNone                   Reason = "none"
	ReasonUnauthenticated        Reason = "unauthenticated"
	ReasonUnknownUser            Reason = "unknown_user"
	ReasonHourly                 Reason = "hourly"
	ReasonDaily                  Reason = "daily"
	ReasonMonthly                Reason = "monthly"
	ReasonRoute                  Reason = "window"
	ReasonPersistenceUnavailable Reason = "persistence_unavailable"
)

// IsCeiling reports whether the reason is a breached ceiling.
func (r Reason) IsCeiling() bool {
	switch r {
	case ReasonHourly, ReasonDaily, ReasonMonthly, ReasonRoute:
		return true
	}
	return false
}

// RouteLimit is an extra per-route ceiling layered on top of the plan.
// The zero value disables it.
type RouteLimit struct {
	MaxRequests int
	Window      time.Duration
}

func (r RouteLimit) enabled() bool { return r.MaxRequests > 0 && r.Window > 0 }

// Counts are the window counts a decision was based on.
type Counts struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
	Route   int `json:"route,omitempty"`
}

// Decision is the result of Evaluate. Err is set for every denial.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Plan      Plan
	Limit     int
	Remaining int
	ResetAt   time.Time
	Counts    Counts
	Err       error
}

// RetryAfter is the wait until ResetAt, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

// Stats is the read-only usage view for quota displays.
type Stats struct {
	Plan           Plan      `json:"plan"`
	Quota          PlanQuota `json:"quota"`
	HourlyRequests int       `json:"hourly_requests"`
	DailyRequests  int       `json:"daily_requests"`
	MonthlyStores  int       `json:"monthly_stores"`
	HourlyReset    time.Time `json:"hourly_reset"`
	DailyReset     time.Time `json:"daily_reset"`
	MonthlyReset   time.Time `json:"monthly_reset"`
}
