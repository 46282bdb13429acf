package middleware

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Hard cap on tracked clients; beyond it the oldest half is evicted
	maxTrackedClients = 10000
	// How often stale client buckets are swept
	sweepInterval = 5 * time.Minute
	// A bucket unused for this long is dropped on the next sweep
	clientTTL = 15 * time.Minute
)

// clientLimiter is a token bucket for a single remote address
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-IP token bucket limiting. The auth endpoints
// get a strict limiter to slow credential stuffing; the rest of the API
// gets a looser one.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	stopCh  chan struct{}
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond
// sustained with the given burst per client, and starts its sweeper.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		stopCh:  make(chan struct{}),
	}

	go rl.sweepLoop()

	return rl
}

// Stop terminates the sweeper goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops stale buckets, then evicts the oldest half if the map is
// still over the cap.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > clientTTL {
			delete(rl.clients, key)
		}
	}

	if len(rl.clients) <= maxTrackedClients {
		return
	}

	type aged struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]aged, 0, len(rl.clients))
	for k, c := range rl.clients {
		entries = append(entries, aged{k, c.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	for _, e := range entries[:len(entries)-maxTrackedClients/2] {
		delete(rl.clients, e.key)
	}
}

// getLimiter returns the bucket for key, creating it on first sight
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Middleware returns a chi-compatible middleware function
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RemoteAddr is rewritten by the RealIP middleware upstream
			limiter := rl.getLimiter(r.RemoteAddr)

			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"Rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
