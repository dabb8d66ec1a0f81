package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many inbound envelopes one session may submit
// per sliding window. The gateway builds one per connection from the
// PARLEY_WS_RATE_EVENTS / PARLEY_WS_RATE_WINDOW knobs; zero or negative
// inputs fall back to the package defaults in limits.go.
//
// Scope is intentionally per-connection: a noisy session is throttled
// without affecting the rest of its rooms.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a sliding-window limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at "now" and reports whether it fits the
// window. Rejected events are not recorded, so a session that keeps
// hammering does not push its own recovery point further out.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked(now)

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// evictExpiredLocked drops stamps older than one window. Stamps are
// appended in order, so everything before the first live one goes too.
func (r *RateLimiter) evictExpiredLocked(now time.Time) {
	cut := now.Add(-r.window)

	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cut) {
		i++
	}
	if i == 0 {
		return
	}
	r.stamps = append(r.stamps[:0], r.stamps[i:]...)
}
