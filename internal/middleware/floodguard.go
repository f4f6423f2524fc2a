package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const floodIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// floodGuard keeps one token bucket per client IP.
type floodGuard struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newFloodGuard(rps float64, burst int) *floodGuard {
	if burst < 1 {
		burst = 1
	}
	return &floodGuard{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (g *floodGuard) allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > floodIdleTTL {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) > floodIdleTTL {
				delete(g.visitors, k)
			}
		}
		g.lastSweep = now
	}

	v, ok := g.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(g.rps, g.burst)}
		g.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// FloodGuard sheds bursts per client IP before any identity or ledger work.
func FloodGuard(rps float64, burst int) func(http.Handler) http.Handler {
	g := newFloodGuard(rps, burst)
	return g.middleware
}

func (g *floodGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "too many requests from this address")
			return
		}
		next.ServeHTTP(w, r)
	})
}
