// Package quota decides whether a user's request fits under the ceilings
// of their plan and records what each request did.
//
// The limiter keeps no state between calls. Window counts are read from a
// UsageStore on every decision, so several processes can share one ledger.
// Two concurrent requests from the same user can both observe a count just
// under a ceiling and both pass; the ledger would need an atomic
// insert-and-count to close that gap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/logger"
	"github.com/rajasatyajit/storeforge/internal/metrics"
	"github.com/rajasatyajit/storeforge/pkg/utils"
)

const (
	DefaultEvaluateTimeout = 3 * time.Second
	DefaultLogTimeout      = 5 * time.Second
)

// Limiter evaluates plan ceilings against the usage ledger.
type Limiter struct {
	store        UsageStore
	plans        *PlanTable
	clock        clockwork.Clock
	evalTimeout  time.Duration
	logTimeout   time.Duration
	isGeneration func(endpoint string) bool
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithPlans(t *PlanTable) Option {
	return func(l *Limiter) {
		if t != nil {
			l.plans = t
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithEvaluateTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.evalTimeout = d
		}
	}
}

func WithLogTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.logTimeout = d
		}
	}
}

// WithGenerationMatcher sets the predicate that marks store-generation endpoints.
func WithGenerationMatcher(match func(endpoint string) bool) Option {
	return func(l *Limiter) {
		if match != nil {
			l.isGeneration = match
		}
	}
}

// MarkerMatcher matches endpoints whose path contains any marker, ignoring case.
func MarkerMatcher(markers ...string) func(endpoint string) bool {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return func(endpoint string) bool {
		return utils.ContainsAny(strings.ToLower(endpoint), lowered)
	}
}

// New builds a Limiter over store. Construct once per process.
func New(store UsageStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		plans:        DefaultPlans(),
		clock:        clockwork.NewRealClock(),
		evalTimeout:  DefaultEvaluateTimeout,
		logTimeout:   DefaultLogTimeout,
		isGeneration: MarkerMatcher("generate-store"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plans returns the plan table in use.
func (l *Limiter) Plans() *PlanTable { return l.plans }

// Now is the limiter's clock reading in UTC at ledger precision (microseconds).
func (l *Limiter) Now() time.Time { return l.clock.Now().UTC().Truncate(time.Microsecond) }

// IsGeneration reports whether endpoint counts toward the monthly store ceiling.
func (l *Limiter) IsGeneration(endpoint string) bool { return l.isGeneration(endpoint) }

func (l *Limiter) logFor(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx).With("component", "quota")
}

type windows struct {
	now        time.Time
	hourStart  time.Time
	dayStart   time.Time
	monthStart time.Time
	hourReset  time.Time
	dayReset   time.Time
	monthReset time.Time
}

func windowsAt(now time.Time) windows {
	now = now.UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return windows{
		now:        now,
		hourStart:  now.Add(-time.Hour),
		dayStart:   now.Add(-24 * time.Hour),
		monthStart: month,
		hourReset:  now.Add(time.Hour),
		dayReset:   now.Add(24 * time.Hour),
		monthReset: month.AddDate(0, 1, 0),
	}
}

type observation struct {
	plan   Plan
	quota  PlanQuota
	w      windows
	counts Counts
}

// observe loads the user's plan and counts usage in every applicable window.
// Evaluate and the stats queries share it so their numbers always agree.
func (l *Limiter) observe(ctx context.Context, userID, endpoint string, withStores bool, route RouteLimit) (observation, Reason, error) {
	var obs observation

	user, err := l.store.LookupUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return obs, ReasonUnknownUser, fmt.Errorf("%w: %s", apperrors.ErrUnknownUser, userID)
		}
		return obs, ReasonPersistenceUnavailable, unavailable(ctx, err)
	}

	obs.plan, obs.quota = l.plans.Resolve(user.Plan)
	obs.w = windowsAt(l.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := l.store.CountUsage(gctx, userID, endpoint, obs.w.hourStart)
		obs.counts.Hourly = n
		return err
	})
	g.Go(func() error {
		n, err := l.store.CountUsage(gctx, userID, endpoint, obs.w.dayStart)
		obs.counts.Daily = n
		return err
	})
	if withStores {
		g.Go(func() error {
			n, err := l.store.CountStores(gctx, userID, obs.w.monthStart)
			obs.counts.Monthly = n
			return err
		})
	}
	if route.enabled() {
		g.Go(func() error {
			n, err := l.store.CountUsage(gctx, userID, endpoint, obs.w.now.Add(-route.Window))
			obs.counts.Route = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return obs, ReasonPersistenceUnavailable, unavailable(ctx, err)
	}
	return obs, ReasonNone, nil
}

func unavailable(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	return apperrors.Unavailable(err)
}

// Evaluate decides whether identity may call endpoint now. It never returns
// an allowed decision when the ledger cannot be read.
func (l *Limiter) Evaluate(ctx context.Context, id *Identity, endpoint string) Decision {
	return l.EvaluateRoute(ctx, id, endpoint, RouteLimit{})
}

// EvaluateRoute is Evaluate with an additional per-route window checked
// after the plan ceilings.
func (l *Limiter) EvaluateRoute(ctx context.Context, id *Identity, endpoint string, route RouteLimit) Decision {
	start := l.clock.Now()
	d := l.evaluate(ctx, id, endpoint, route)
	metrics.RecordQuotaCheck("evaluate", l.clock.Since(start))

	plan := string(d.Plan)
	if plan == "" {
		plan = "unknown"
	}
	metrics.RecordQuotaDecision(plan, string(d.Reason))

	if !d.Allowed {
		log := l.logFor(ctx).With("endpoint", endpoint, "reason", d.Reason)
		if d.Reason == ReasonPersistenceUnavailable {
			log.Error("quota check failed closed", "error", d.Err)
		} else {
			log.Info("request denied by quota", "limit", d.Limit, "reset_at", d.ResetAt)
		}
	}
	return d
}

func (l *Limiter) evaluate(ctx context.Context, id *Identity, endpoint string, route RouteLimit) Decision {
	if id == nil || id.UserID == "" {
		return Decision{Reason: ReasonUnauthenticated, Err: apperrors.ErrUnauthenticated}
	}

	ctx, cancel := context.WithTimeout(ctx, l.evalTimeout)
	defer cancel()

	generation := l.isGeneration(endpoint)
	obs, reason, err := l.observe(ctx, id.UserID, endpoint, generation, route)
	if err != nil {
		return Decision{Reason: reason, Plan: obs.plan, Err: err}
	}

	q, c, w := obs.quota, obs.counts, obs.w
	deny := func(r Reason, limit, current int, reset time.Time) Decision {
		return Decision{
			Reason:    r,
			Plan:      obs.plan,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   reset,
			Counts:    c,
			Err: &apperrors.CeilingError{
				Kind:    string(r),
				Limit:   limit,
				Current: current,
				ResetAt: reset,
			},
		}
	}

	switch {
	case c.Hourly >= q.RequestsPerHour:
		return deny(ReasonHourly, q.RequestsPerHour, c.Hourly, w.hourReset)
	case c.Daily >= q.RequestsPerDay:
		return deny(ReasonDaily, q.RequestsPerDay, c.Daily, w.dayReset)
	case generation && c.Monthly >= q.StoresPerMonth:
		return deny(ReasonMonthly, q.StoresPerMonth, c.Monthly, w.monthReset)
	case route.enabled() && c.Route >= route.MaxRequests:
		return deny(ReasonRoute, route.MaxRequests, c.Route, w.now.Add(route.Window))
	}

	// Remaining counts the current request as already logged.
	d := Decision{
		Allowed:   true,
		Reason:    ReasonNone,
		Plan:      obs.plan,
		Limit:     q.RequestsPerHour,
		Remaining: q.RequestsPerHour - c.Hourly - 1,
		ResetAt:   w.hourReset,
		Counts:    c,
	}
	if rem := q.RequestsPerDay - c.Daily - 1; rem < d.Remaining {
		d.Limit, d.Remaining = q.RequestsPerDay, rem
	}
	if route.enabled() {
		if rem := route.MaxRequests - c.Route - 1; rem < d.Remaining {
			d.Limit, d.Remaining = route.MaxRequests, rem
		}
		if reset := w.now.Add(route.Window); reset.Before(d.ResetAt) {
			d.ResetAt = reset
		}
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

// LogRequest appends one usage event for identity. A nil identity is
// ignored. Write failures are logged and counted, never returned.
func (l *Limiter) LogRequest(ctx context.Context, id *Identity, req Request) {
	if id == nil || id.UserID == "" {
		return
	}

	ev := UsageEvent{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Success:   req.Success,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		Timestamp: l.Now(),
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.logTimeout)
	defer cancel()

	start := l.clock.Now()
	err := l.store.InsertUsage(wctx, ev)
	metrics.RecordQuotaCheck("log_request", l.clock.Since(start))
	if err != nil {
		metrics.RecordUsageLogFailure(req.Endpoint)
		l.logFor(ctx).Error("usage event not recorded",
			"error", err,
			"endpoint", req.Endpoint,
			"method", req.Method,
		)
	}
}

// UsageStats returns the caller's usage across all endpoints.
func (l *Limiter) UsageStats(ctx context.Context, id *Identity) (Stats, error) {
	return l.stats(ctx, id, "")
}

// EndpointStats returns usage for one endpoint, counted exactly as Evaluate counts it.
func (l *Limiter) EndpointStats(ctx context.Context, id *Identity, endpoint string) (Stats, error) {
	return l.stats(ctx, id, endpoint)
}

func (l *Limiter) stats(ctx context.Context, id *Identity, endpoint string) (Stats, error) {
	if id == nil || id.UserID == "" {
		return Stats{}, apperrors.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, l.evalTimeout)
	defer cancel()

	start := l.clock.Now()
	obs, _, err := l.observe(ctx, id.UserID, endpoint, true, RouteLimit{})
	metrics.RecordQuotaCheck("usage_stats", l.clock.Since(start))
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Plan:           obs.plan,
		Quota:          obs.quota,
		HourlyRequests: obs.counts.Hourly,
		DailyRequests:  obs.counts.Daily,
		MonthlyStores:  obs.counts.Monthly,
		HourlyReset:    obs.w.hourReset,
		DailyReset:     obs.w.dayReset,
		MonthlyReset:   obs.w.monthReset,
	}, nil
}
