package policy

import (
	"sync"
	"time"
)

// RateLimiter enforces a "runs per minute" cap per key (typically a
// user_id). It is a plain sliding-window counter — no third-party
// rate-limiting library appears anywhere in the pack, so this stays on the
// standard library, keyed by a plain string, rather than introducing a new
// dependency for a handful of lines of arithmetic.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[string][]time.Time
}

// NewRateLimiter returns a limiter enforcing its cap over a sliding window
// of the given duration (spec.md's "runs per minute" implies one minute,
// but the window is a parameter so tests need not wait a full minute).
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{window: window, hits: make(map[string][]time.Time)}
}

// Allow reports whether key may proceed given max allowed hits within the
// window, recording this call as a hit when it does. max <= 0 means
// unlimited.
func (r *RateLimiter) Allow(key string, max int) bool {
	if max <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	hits := r.hits[key]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	if len(kept) >= max {
		r.hits[key] = kept
		return false
	}
	r.hits[key] = append(kept, now)
	return true
}
