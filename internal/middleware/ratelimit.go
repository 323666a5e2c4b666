package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vexgate/internal/types"
)

// limiterEntry wraps a rate limiter with last access time
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// localRateLimiter applies a per-client token bucket. It is
// process-local, intended for the admin API rather than the data path,
// which uses the shared store.
type localRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.RWMutex
	rps      float64
	burst    int
	ttl      time.Duration
	stopCh   chan struct{}
}

// LocalRateLimit creates per-client-IP rate limiting middleware
func LocalRateLimit(rps float64, burst int) types.Middleware {
	rl := &localRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rps,
		burst:    burst,
		ttl:      5 * time.Minute,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanup()

	return rl.Middleware
}

// Middleware returns the middleware handler
func (rl *localRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		limiter := rl.getLimiter(key)
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getLimiter returns a limiter for the given key
func (rl *localRateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		entry.mu.Lock()
		entry.lastAccess = time.Now()
		entry.mu.Unlock()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check
	if entry, exists := rl.limiters[key]; exists {
		entry.mu.Lock()
		entry.lastAccess = time.Now()
		entry.mu.Unlock()
		return entry.limiter
	}

	entry = &limiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		lastAccess: time.Now(),
	}
	rl.limiters[key] = entry

	return entry.limiter
}

// cleanup periodically removes unused limiters
func (rl *localRateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStale()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanupStale removes limiters that haven't been accessed recently
func (rl *localRateLimiter) cleanupStale() {
	now := time.Now()
	expiredKeys := make([]string, 0)

	rl.mu.RLock()
	for key, entry := range rl.limiters {
		entry.mu.Lock()
		if now.Sub(entry.lastAccess) > rl.ttl {
			expiredKeys = append(expiredKeys, key)
		}
		entry.mu.Unlock()
	}
	rl.mu.RUnlock()

	if len(expiredKeys) > 0 {
		rl.mu.Lock()
		for _, key := range expiredKeys {
			// Double-check the entry is still expired
			if entry, exists := rl.limiters[key]; exists {
				entry.mu.Lock()
				if now.Sub(entry.lastAccess) > rl.ttl {
					delete(rl.limiters, key)
				}
				entry.mu.Unlock()
			}
		}
		rl.mu.Unlock()
	}
}

// Stop stops the cleanup goroutine
func (rl *localRateLimiter) Stop() {
	close(rl.stopCh)
}

// ClientIP extracts the caller's network address from the request
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	// Use RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
