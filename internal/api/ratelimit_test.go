package api

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_ExactLimits(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(3, time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("1") {
			t.Errorf("Call %d should be allowed (within limit of 3)", i+1)
		}
	}
	if limiter.Allow("1") {
		t.Error("4th call should be denied")
	}

	// Callers are limited independently
	if !limiter.Allow("2") {
		t.Error("First call of another caller should be allowed")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(2, time.Minute, clock.Now)

	limiter.Allow("1")
	limiter.Allow("1")
	if limiter.Allow("1") {
		t.Fatal("Expected limit to be reached")
	}

	clock.Advance(59 * time.Second)
	if limiter.Allow("1") {
		t.Error("Window should not reset before a full minute")
	}

	clock.Advance(time.Second)
	if !limiter.Allow("1") {
		t.Error("Expected a new window after a full minute")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(10, time.Minute, clock.Now)

	limiter.Allow("idle")
	clock.Advance(4 * time.Minute)
	limiter.Allow("recent")

	if removed := limiter.Cleanup(); removed != 0 {
		t.Errorf("Expected nothing removed yet, got %d", removed)
	}

	clock.Advance(2 * time.Minute)
	if removed := limiter.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 idle caller removed, got %d", removed)
	}
	if _, ok := limiter.callers["recent"]; !ok {
		t.Error("Recent caller should be kept")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(100, time.Minute, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed calls, got %d", allowed)
	}
}
