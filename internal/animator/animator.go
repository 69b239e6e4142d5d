// Package animator drives the session card's expiry transition.
package animator

import (
	"sync"
	"time"

	"rollcall/internal/events"
)

// Visual is the card's presentational state
type Visual = events.Visual

var (
	Normal  = Visual{Tint: 0, Opacity: 1}
	Alerted = Visual{Tint: 1, Opacity: 1}
	Faded   = Visual{Tint: 1, Opacity: 0}
)

// Stopper cancels a scheduled callback
type Stopper interface {
	Stop() bool
}

// Scheduler runs f after d; time.AfterFunc in production
type Scheduler func(d time.Duration, f func()) Stopper

func afterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Animator plays the expiry transition: alert tint, then fade, then completion
// FUNCTIONAL DISCOVERY: Reset cancels an in-flight transition, so a cancelled or
// restarted session never receives a stale completion
type Animator struct {
	alert    time.Duration
	fade     time.Duration
	schedule Scheduler
	onVisual func(Visual)

	mu      sync.Mutex
	run     uint64
	pending Stopper
	current Visual
}

// New creates an animator; onVisual observes every visual state change and may be nil
func New(alert, fade time.Duration, schedule Scheduler, onVisual func(Visual)) *Animator {
	if schedule == nil {
		schedule = afterFunc
	}
	if onVisual == nil {
		onVisual = func(Visual) {}
	}
	return &Animator{
		alert:    alert,
		fade:     fade,
		schedule: schedule,
		onVisual: onVisual,
		current:  Normal,
	}
}

// Reset jumps back to the normal look without animation
func (a *Animator) Reset() {
	a.mu.Lock()
	a.cancelLocked()
	a.current = Normal
	a.mu.Unlock()
	a.onVisual(Normal)
}

// PlayExpiry tints to alert over the alert duration, fades out over the fade
// duration, then calls done. done is not called if Reset or another PlayExpiry
// supersedes this run.
func (a *Animator) PlayExpiry(done func()) {
	a.mu.Lock()
	a.cancelLocked()
	run := a.run
	a.pending = a.schedule(a.alert, func() {
		if !a.advance(run, Alerted) {
			return
		}
		a.mu.Lock()
		if a.run != run {
			a.mu.Unlock()
			return
		}
		a.pending = a.schedule(a.fade, func() {
			if !a.advance(run, Faded) {
				return
			}
			if done != nil {
				done()
			}
		})
		a.mu.Unlock()
	})
	a.mu.Unlock()
}

// Current returns the last visual state
func (a *Animator) Current() Visual {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Animator) advance(run uint64, v Visual) bool {
	a.mu.Lock()
	if a.run != run {
		a.mu.Unlock()
		return false
	}
	a.current = v
	a.mu.Unlock()
	a.onVisual(v)
	return true
}

func (a *Animator) cancelLocked() {
	a.run++
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}
