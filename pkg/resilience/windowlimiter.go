package resilience

import (
	"sync"
	"time"
)

// WindowLimiter is a per-key sliding-window rate limiter. Request timestamps
// are kept per key under a mutex, which is sufficient for a single process;
// multi-process deployments need an external shared store instead.
type WindowLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
	now    func() time.Time // for testing
}

// NewWindowLimiter allows at most limit requests per key within window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		window: window,
		limit:  limit,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// window limit.
func (l *WindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	window := l.hits[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Prune drops keys with no requests inside the window. Callers may run it
// periodically to bound memory for many distinct keys.
func (l *WindowLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, window := range l.hits {
		live := false
		for _, t := range window {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.hits, key)
		}
	}
}
