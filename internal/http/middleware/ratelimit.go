package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	// Stale client buckets are evicted after sitting idle this long.
	bucketIdleEviction = 10 * time.Minute
	bucketSweepEvery   = 5 * time.Minute
)

// IntakeLimiter throttles lead intake per client IP with a token bucket,
// so a misbehaving form integration cannot flood the routing pipeline.
type IntakeLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64 // tokens refilled per second
	burst   int
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewIntakeLimiter creates a limiter allowing rate requests/sec with the
// given burst size per client.
func NewIntakeLimiter(rate float64, burst int) *IntakeLimiter {
	l := &IntakeLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
	}
	go l.sweep()
	return l
}

// Allow reports whether the client identified by ip is within its limit.
func (l *IntakeLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.clients[ip]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), lastSeen: now}
		l.clients[ip] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *IntakeLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-bucketIdleEviction)
		for ip, b := range l.clients {
			if b.lastSeen.Before(cutoff) {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit returns an HTTP middleware rejecting requests over the
// configured per-client rate with 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewIntakeLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// Prefer X-Real-Ip set by chi's RealIP middleware.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !limiter.Allow(ip) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
