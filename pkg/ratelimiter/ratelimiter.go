package ratelimiter

import (
	"sync"
	"time"
)

// DefaultLimit applies to limit types with no configured entry.
const DefaultLimit = 10

// Limiter enforces per-key request limits over a sliding window, using a
// timestamp log per (key, limit type) pair. The key names an identity (user,
// IP); the limit type, such as "api_per_user" or "publishing_per_user",
// selects which budget applies.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limits map[string]int
	events map[string][]time.Time
}

// New creates a Limiter. limits maps limit types to the number of requests
// allowed per window; unknown types fall back to DefaultLimit.
func New(window time.Duration, limits map[string]int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		window: window,
		limits: limits,
		events: make(map[string][]time.Time),
	}
}

// Allow records one request for key under limitType and reports whether it
// fits inside the window budget. Each (key, limitType) pair has its own
// event log, so one identity's budgets are independent. Denied requests are
// not recorded.
func (l *Limiter) Allow(key, limitType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := key + ":" + limitType
	now := time.Now()
	kept := l.prune(bucket, now)
	if len(kept) >= l.limitFor(limitType) {
		return false
	}
	l.events[bucket] = append(kept, now)
	return true
}

// Remaining returns how many requests key can still make under limitType in
// the current window.
func (l *Limiter) Remaining(key, limitType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key+":"+limitType, time.Now())
	remaining := l.limitFor(limitType) - len(kept)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// prune drops timestamps that slid out of the window. Assumes the mutex is
// held.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	recorded := l.events[key]
	kept := recorded[:0]
	for _, at := range recorded {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(l.events, key)
		return nil
	}
	l.events[key] = kept
	return kept
}

func (l *Limiter) limitFor(limitType string) int {
	if limit, ok := l.limits[limitType]; ok {
		return limit
	}
	return DefaultLimit
}
