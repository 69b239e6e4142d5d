// Package countdown drives the one-second attendance countdown.
package countdown

import (
	"sync"
	"time"
)

// NearExpiryThreshold is the last stretch of a session during which extension is offered
const NearExpiryThreshold = 10

// Tick is the outcome of one countdown step
type Tick struct {
	Generation uint64
	Remaining  int
	NearExpiry bool
	Expired    bool
}

// Step advances the countdown by one tick
// FUNCTIONAL DISCOVERY: Remaining never drops below zero, the near-expiry flag is
// recomputed from the new value every tick, and expiry fires when the previous
// value was the last second
func Step(remaining int) Tick {
	next := remaining - 1
	if next < 0 {
		next = 0
	}
	return Tick{
		Remaining:  next,
		NearExpiry: IsNearExpiry(next),
		Expired:    remaining <= 1,
	}
}

// IsNearExpiry reports whether remaining falls in the extension window
func IsNearExpiry(remaining int) bool {
	return remaining > 0 && remaining <= NearExpiryThreshold
}

// Ticker abstracts time.Ticker so tests can drive ticks by hand
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// RealTicker is the production TickerFactory
func RealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timer runs at most one countdown at a time
// ARCHITECTURAL DISCOVERY: Starting a countdown always tears down the previous
// ticker first; ticks belonging to a superseded run are dropped
type Timer struct {
	interval  time.Duration
	newTicker TickerFactory

	mu      sync.Mutex
	run     uint64
	stopCh  chan struct{}
	running bool
}

// NewTimer creates a timer ticking every interval
func NewTimer(interval time.Duration, factory TickerFactory) *Timer {
	if factory == nil {
		factory = RealTicker
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{
		interval:  interval,
		newTicker: factory,
	}
}

// Start begins counting down from remaining, calling onTick once per interval
// onTick runs on the timer goroutine. The Expired tick is delivered exactly once,
// after which the timer stops itself.
func (t *Timer) Start(generation uint64, remaining int, onTick func(Tick)) {
	t.mu.Lock()
	t.stopLocked()
	t.run++
	run := t.run
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.running = true
	ticker := t.newTicker(t.interval)
	t.mu.Unlock()

	go t.loop(run, generation, remaining, ticker, stopCh, onTick)
}

func (t *Timer) loop(run, generation uint64, remaining int, ticker Ticker, stopCh chan struct{}, onTick func(Tick)) {
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			tick := Step(remaining)
			tick.Generation = generation
			remaining = tick.Remaining

			t.mu.Lock()
			current := t.run == run && t.running
			if current && tick.Expired {
				t.running = false
			}
			t.mu.Unlock()
			if !current {
				return
			}

			onTick(tick)
			if tick.Expired {
				return
			}
		}
	}
}

// Stop tears down the running countdown, if any
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	t.running = false
}

// Running reports whether a countdown is in progress
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
