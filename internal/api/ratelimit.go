package api

import (
	"sync"
	"time"
)

// RateLimiter caps how many presence writes each caller may make per window
// ARCHITECTURAL DISCOVERY: Per-caller state tracking with periodic cleanup keeps the map
// bounded by the callers active in the last few windows
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	callers map[string]*callerLimit
}

// callerLimit tracks one caller's fixed window
type callerLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit calls per window; now defaults to time.Now
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		callers: make(map[string]*callerLimit),
	}
}

// Allow records one call by key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.callers[key]
	if !exists {
		rl.callers[key] = &callerLimit{count: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: The window restarts at the first call after it elapses
	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Cleanup drops callers idle for five windows; call periodically
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, limit := range rl.callers {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.callers, key)
			removed++
		}
	}
	return removed
}
