package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// pruneAfter bounds how many distinct clients are tracked before stale
// entries are swept.
const pruneAfter = 256

// RateLimiter enforces a minimum interval between control commands per client.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSeen    map[string]time.Time
	now         func() time.Time
}

// NewRateLimiter returns a limiter; a non-positive interval allows everything.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		minInterval: minInterval,
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
}

func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r == nil || r.minInterval <= 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, ok := r.lastSeen[key]
	if ok {
		elapsed := now.Sub(last)
		if elapsed < r.minInterval {
			return false, r.minInterval - elapsed
		}
	}
	r.lastSeen[key] = now
	if len(r.lastSeen) > pruneAfter {
		r.pruneLocked(now)
	}
	return true, 0
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	for key, seen := range r.lastSeen {
		if now.Sub(seen) >= r.minInterval {
			delete(r.lastSeen, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
