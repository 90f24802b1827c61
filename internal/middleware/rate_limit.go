package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spa-gateway/internal/observability"
)

const (
	// A client's bucket is dropped after this much inactivity.
	visitorTTL = 15 * time.Minute
	// How often stale buckets are swept.
	sweepInterval = 5 * time.Minute
	// Hard cap on tracked clients; the stalest bucket is evicted beyond it.
	maxVisitors = 10000
)

// visitor is one client's token bucket plus the recency used to expire it.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket. The gateway puts it in
// front of the login and callback endpoints: both are reachable without a
// session and a failed callback still costs a round trip to the identity
// provider, so they must not be free to hammer.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	done     chan struct{}
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained with
// the given burst per client, and starts its background sweeper.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		done:     make(chan struct{}),
	}

	go rl.sweepLoop()

	return rl
}

// Stop terminates the background sweeper.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Middleware enforces the limit. Over-limit requests get a bare 429, the
// same empty-body policy as the gate's 401 and 403.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.limiterFor(ip).Allow() {
				observability.FromContext(r.Context()).Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
				)
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys buckets per address, not per connection: RealIP runs earlier
// in the chain, and the port would split one client across many buckets.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.visitors[ip]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}

	if len(rl.visitors) >= maxVisitors {
		rl.evictStalestLocked()
	}

	v := &visitor{
		limiter:  rate.NewLimiter(rl.rate, rl.burst),
		lastSeen: time.Now(),
	}
	rl.visitors[ip] = v
	return v.limiter
}

func (rl *RateLimiter) evictStalestLocked() {
	var stalest string
	var stalestSeen time.Time
	for ip, v := range rl.visitors {
		if stalest == "" || v.lastSeen.Before(stalestSeen) {
			stalest, stalestSeen = ip, v.lastSeen
		}
	}
	if stalest != "" {
		delete(rl.visitors, stalest)
	}
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, ip)
		}
	}
}
