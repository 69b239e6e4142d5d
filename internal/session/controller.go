package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"rollcall/internal/animator"
	"rollcall/internal/apiclient"
	"rollcall/internal/countdown"
	"rollcall/internal/events"
	"rollcall/internal/roster"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Options tunes a Controller; zero fields take the defaults
type Options struct {
	TickInterval  time.Duration
	AlertDuration time.Duration
	FadeDuration  time.Duration
	CallTimeout   time.Duration
	Messages      Messages
	Feed          interfaces.PresenceFeed

	// Test hooks
	NewTicker countdown.TickerFactory
	Schedule  animator.Scheduler
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.AlertDuration <= 0 {
		o.AlertDuration = 500 * time.Millisecond
	}
	if o.FadeDuration <= 0 {
		o.FadeDuration = 2 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
	if o.Messages == nil {
		o.Messages = english
	}
	return o
}

// Controller owns one lecturer's attendance session
// ARCHITECTURAL DISCOVERY: All transitions go through Reduce under one mutex and
// their effects run before the mutex is released; effects never block, network
// calls run on their own goroutines and report back as actions
type Controller struct {
	api         interfaces.SessionAPI
	roster      *roster.Sync
	timer       *countdown.Timer
	anim        *animator.Animator
	bus         *events.Bus
	feed        interfaces.PresenceFeed
	messages    Messages
	callTimeout time.Duration

	mu          sync.Mutex
	state       State
	closed      bool
	feedSession int64
	feedCancel  context.CancelFunc

	inflight sync.WaitGroup
	feeds    sync.WaitGroup
}

// NewController creates an idle controller; bus may be nil
func NewController(sessions interfaces.SessionAPI, rosterAPI interfaces.RosterAPI, bus *events.Bus, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		api:         sessions,
		bus:         bus,
		feed:        opts.Feed,
		messages:    opts.Messages,
		callTimeout: opts.CallTimeout,
		roster:      roster.NewSync(rosterAPI, bus),
		timer:       countdown.NewTimer(opts.TickInterval, opts.NewTicker),
	}
	c.anim = animator.New(opts.AlertDuration, opts.FadeDuration, opts.Schedule, c.publishVisual)
	return c
}

// Start asks the service for a new session for groupID
func (c *Controller) Start(groupID int64) error {
	return c.submit(StartRequested{GroupID: groupID})
}

// Extend asks for more time; only valid in the near-expiry window
func (c *Controller) Extend() error {
	return c.submit(ExtendRequested{})
}

// Cancel ends the session early, or abandons a start still in flight
func (c *Controller) Cancel() error {
	return c.submit(CancelRequested{})
}

// Toggle flips a student's presence for the current session
func (c *Controller) Toggle(ctx context.Context, studentID int64, currentlyPresent bool) error {
	if c.isClosed() {
		return ErrControllerClosed
	}

	err := c.roster.Toggle(ctx, studentID, currentlyPresent)
	switch {
	case errors.Is(err, roster.ErrNoSession), errors.Is(err, roster.ErrUnknownStudent):
		return err
	case err != nil:
		c.notify(Notify{Level: events.LevelError, Title: MsgError, Detail: MsgFailedToggle, Err: err})
		return err
	case currentlyPresent:
		c.notify(Notify{Level: events.LevelSuccess, Title: MsgAttendanceUnmarked, Detail: MsgStudentMarkedAbsent})
	default:
		c.notify(Notify{Level: events.LevelSuccess, Title: MsgAttendanceMarked, Detail: MsgStudentMarkedPresent})
	}
	return nil
}

// RefreshRoster refetches the roster of the current session
func (c *Controller) RefreshRoster(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	session := c.state.Session
	if session == nil {
		c.mu.Unlock()
		return roster.ErrNoSession
	}
	fetch := c.roster.Begin(session)
	c.mu.Unlock()

	return fetch(ctx)
}

// ApplyPresence applies a server-pushed presence change
func (c *Controller) ApplyPresence(event types.PresenceEvent) bool {
	return c.roster.ApplyPresence(event)
}

// State returns a snapshot of the session state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Students returns the displayed roster
func (c *Controller) Students() []types.Student {
	return c.roster.Students()
}

// Visual returns the session card's current look
func (c *Controller) Visual() events.Visual {
	return c.anim.Current()
}

// Close tears the controller down and returns once the live feed has stopped;
// network results arriving later are dropped
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.applyLocked(Closed{})
	c.closed = true
	c.unfollowLocked()
	c.mu.Unlock()

	c.feeds.Wait()
}

// Wait blocks until every network call issued so far has settled
// The live feed runs for the whole session and is not waited for; Close stops it.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) submit(a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	if !Allowed(c.state, a) {
		return ErrInvalidTransition
	}
	c.applyLocked(a)
	return nil
}

func (c *Controller) dispatch(a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if started, ok := a.(StartSucceeded); ok && started.Session != nil {
			c.discard(started.Session.ID)
		}
		return
	}
	c.applyLocked(a)
}

func (c *Controller) applyLocked(a Action) {
	next, effects := Reduce(c.state, a)
	c.state = next
	for _, e := range effects {
		c.runLocked(e)
	}
}

func (c *Controller) runLocked(e Effect) {
	switch e := e.(type) {
	case CallCreate:
		c.call(func(ctx context.Context) Action {
			session, err := c.api.CreateSession(ctx, e.GroupID)
			if err != nil {
				return StartFailed{Generation: e.Generation, Err: err}
			}
			return StartSucceeded{Generation: e.Generation, Session: session}
		})
	case CallExtend:
		c.call(func(ctx context.Context) Action {
			ext, err := c.api.ExtendSession(ctx, e.SessionID)
			if err != nil {
				return ExtendFailed{Generation: e.Generation, Err: err}
			}
			return ExtendSucceeded{Generation: e.Generation, Extension: ext}
		})
	case CallCancel:
		c.call(func(ctx context.Context) Action {
			if err := c.api.CancelSession(ctx, e.SessionID); err != nil {
				return CancelFailed{Generation: e.Generation, Err: err}
			}
			return CancelSucceeded{Generation: e.Generation}
		})
	case DiscardSession:
		c.discard(e.SessionID)
	case StartTimer:
		c.timer.Start(e.Run, e.Remaining, c.onTick)
	case StopTimer:
		c.timer.Stop()
	case LoadRoster:
		c.loadRoster(e.Session)
		c.followLocked(e.Session.ID)
	case ClearRoster:
		c.roster.Begin(nil)
		c.unfollowLocked()
	case PlayExpiry:
		gen := e.Generation
		c.anim.PlayExpiry(func() { c.dispatch(ExpiryFinished{Generation: gen}) })
	case ResetVisual:
		c.anim.Reset()
	case Notify:
		c.notify(e)
	case PublishTransition:
		log.Printf("session: %s -> %s (session=%d)", e.From, e.To, e.SessionID)
		c.publish(func(bus *events.Bus) error {
			return events.Publish(bus, events.Transitions, events.Transition{
				From:      e.From.String(),
				To:        e.To.String(),
				SessionID: e.SessionID,
				At:        time.Now(),
			})
		})
	case PublishCountdown:
		c.publish(func(bus *events.Bus) error {
			return events.Publish(bus, events.Countdowns, events.Countdown{
				SessionID:  e.SessionID,
				Remaining:  e.Remaining,
				NearExpiry: e.NearExpiry,
			})
		})
	}
}

// call runs fn on its own goroutine and feeds its result back as an action
func (c *Controller) call(fn func(ctx context.Context) Action) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		c.dispatch(fn(ctx))
	}()
}

// discard cancels a server session created for a start the lecturer abandoned
func (c *Controller) discard(sessionID int64) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		if err := c.api.CancelSession(ctx, sessionID); err != nil {
			log.Printf("session: failed to cancel abandoned session %d: %v", sessionID, err)
			return
		}
		log.Printf("session: cancelled abandoned session %d", sessionID)
	}()
}

func (c *Controller) loadRoster(session *types.AttendanceSession) {
	fetch := c.roster.Begin(session)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		if err := fetch(ctx); err != nil && !errors.Is(err, roster.ErrStaleLoad) {
			log.Printf("session: failed to load roster for session %d: %v", session.ID, err)
		}
	}()
}

func (c *Controller) followLocked(sessionID int64) {
	if c.feed == nil || c.feedSession == sessionID {
		return
	}
	c.unfollowLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.feedSession = sessionID
	c.feedCancel = cancel

	c.feeds.Add(1)
	go func() {
		defer c.feeds.Done()
		err := c.feed.Follow(ctx, sessionID, func(event types.PresenceEvent) {
			c.roster.ApplyPresence(event)
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("session: live feed for session %d stopped: %v", sessionID, err)
		}
	}()
}

func (c *Controller) unfollowLocked() {
	if c.feedCancel != nil {
		c.feedCancel()
	}
	c.feedCancel = nil
	c.feedSession = 0
}

func (c *Controller) onTick(t countdown.Tick) {
	c.dispatch(Tick{Run: t.Generation, Remaining: t.Remaining, Expired: t.Expired})
}

func (c *Controller) notify(n Notify) {
	detail := c.messages.Text(n.Detail, n.Args...)
	if n.Err != nil {
		log.Printf("session: %s: %v", n.Title, n.Err)
		detail = apiclient.UserMessage(n.Err, detail)
	}
	notice := events.Notice{Level: n.Level, Title: c.messages.Text(n.Title), Detail: detail}
	c.publish(func(bus *events.Bus) error {
		return events.Publish(bus, events.Notices, notice)
	})
}

func (c *Controller) publishVisual(v events.Visual) {
	c.publish(func(bus *events.Bus) error {
		return events.Publish(bus, events.Visuals, v)
	})
}

func (c *Controller) publish(fn func(bus *events.Bus) error) {
	if c.bus == nil {
		return
	}
	if err := fn(c.bus); err != nil {
		log.Printf("session: event not published: %v", err)
	}
}
