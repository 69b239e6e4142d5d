package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"rollcall/internal/animator"
	"rollcall/internal/apiclient"
	"rollcall/internal/countdown"
	"rollcall/internal/events"
	"rollcall/pkg/types"
)

// Mock SessionAPI for testing
type mockSessionAPI struct {
	mu          sync.Mutex
	createCalls int
	extendCalls int
	cancelled   []int64

	// Control behavior for testing
	session    *types.AttendanceSession
	createErr  error
	createGate chan struct{}
	extension  *types.Extension
	extendErr  error
	cancelErr  error
}

func (m *mockSessionAPI) CreateSession(ctx context.Context, groupID int64) (*types.AttendanceSession, error) {
	m.mu.Lock()
	m.createCalls++
	gate := m.createGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	session := *m.session
	session.GroupID = groupID
	return &session, nil
}

func (m *mockSessionAPI) ExtendSession(ctx context.Context, sessionID int64) (*types.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extendCalls++
	if m.extendErr != nil {
		return nil, m.extendErr
	}
	return m.extension, nil
}

func (m *mockSessionAPI) CancelSession(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, sessionID)
	return m.cancelErr
}

func (m *mockSessionAPI) cancelledIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.cancelled...)
}

// Mock RosterAPI for testing
type mockRosterAPI struct {
	mu           sync.Mutex
	loads        int
	failToggle   error
	failEnrolled error
	markEntered  chan struct{}
	markGate     chan struct{}
}

func (m *mockRosterAPI) ListEnrolledStudents(ctx context.Context, groupID int64) ([]types.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failEnrolled != nil {
		return nil, m.failEnrolled
	}
	return []types.Student{{ID: 1, FirstName: "Ali"}, {ID: 2, FirstName: "Zara"}}, nil
}

func (m *mockRosterAPI) ListPresentStudents(ctx context.Context, sessionID int64) ([]types.PresentEntry, error) {
	return []types.PresentEntry{{StudentID: 2}}, nil
}

func (m *mockRosterAPI) MarkPresent(ctx context.Context, sessionID, studentID int64) error {
	m.mu.Lock()
	entered, gate := m.markEntered, m.markGate
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failToggle
}

func (m *mockRosterAPI) UnmarkPresent(ctx context.Context, sessionID, studentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failToggle
}

// stepTicker only ticks when the test calls step
type stepTicker struct {
	ch chan time.Time
}

func (s *stepTicker) C() <-chan time.Time { return s.ch }
func (s *stepTicker) Stop()               {}

type tickers struct {
	created chan *stepTicker
}

func (tk *tickers) factory(time.Duration) countdown.Ticker {
	ticker := &stepTicker{ch: make(chan time.Time)}
	tk.created <- ticker
	return ticker
}

func (tk *tickers) next(t *testing.T) *stepTicker {
	t.Helper()
	select {
	case ticker := <-tk.created:
		return ticker
	case <-time.After(time.Second):
		t.Fatal("countdown was not started")
		return nil
	}
}

func step(t *testing.T, ticker *stepTicker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case ticker.ch <- time.Now():
		case <-time.After(time.Second):
			t.Fatalf("tick %d not consumed", i+1)
		}
	}
}

type pendingCall struct {
	f       func()
	stopped bool
}

func (p *pendingCall) Stop() bool {
	p.stopped = true
	return true
}

// stepScheduler holds animator callbacks until the test runs them
type stepScheduler struct {
	mu    sync.Mutex
	calls []*pendingCall
}

func (s *stepScheduler) schedule(d time.Duration, f func()) animator.Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := &pendingCall{f: f}
	s.calls = append(s.calls, call)
	return call
}

func (s *stepScheduler) runAll() {
	for {
		s.mu.Lock()
		if len(s.calls) == 0 {
			s.mu.Unlock()
			return
		}
		call := s.calls[0]
		s.calls = s.calls[1:]
		s.mu.Unlock()
		if !call.stopped {
			call.f()
		}
	}
}

type harness struct {
	c       *Controller
	api     *mockSessionAPI
	roster  *mockRosterAPI
	tickers *tickers
	sched   *stepScheduler
	notices <-chan events.Notice
}

func newHarness(t *testing.T, remaining int, feed ...*mockFeed) *harness {
	t.Helper()
	bus := events.NewBus(64)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	notices, cancel := events.Subscribe(bus, events.Notices, 32)
	t.Cleanup(func() {
		cancel()
		bus.Stop()
	})

	h := &harness{
		api:     &mockSessionAPI{session: &types.AttendanceSession{ID: 101, Code: "AB12", RemainingSeconds: remaining}},
		roster:  &mockRosterAPI{},
		tickers: &tickers{created: make(chan *stepTicker, 8)},
		sched:   &stepScheduler{},
		notices: notices,
	}
	opts := Options{NewTicker: h.tickers.factory, Schedule: h.sched.schedule}
	if len(feed) > 0 {
		opts.Feed = feed[0]
	}
	h.c = NewController(h.api, h.roster, bus, opts)
	t.Cleanup(h.c.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) phase(p Phase) func() bool {
	return func() bool { return h.c.State().Phase == p }
}

func (h *harness) expectNotice(t *testing.T, level events.Level) events.Notice {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notices:
			if n.Level == level {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notice", level)
			return events.Notice{}
		}
	}
}

func TestController_StartAndCountdown(t *testing.T) {
	h := newHarness(t, 300)

	if err := h.c.Start(7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ticker := h.tickers.next(t)
	h.c.Wait()

	s := h.c.State()
	if s.Phase != Active || s.Remaining != 300 || s.Session.ID != 101 {
		t.Fatalf("unexpected state %+v", s)
	}
	notice := h.expectNotice(t, events.LevelSuccess)
	if notice.Title != "Attendance started" || notice.Detail != "Code: AB12" {
		t.Errorf("unexpected notice %+v", notice)
	}

	step(t, ticker, 2)
	waitFor(t, "remaining 298", func() bool { return h.c.State().Remaining == 298 })

	students := h.c.Students()
	if len(students) != 2 || students[0].FirstName != "Zara" || !students[0].IsPresent {
		t.Errorf("unexpected roster %+v", students)
	}
}

func TestController_StartRejectedWhileActive(t *testing.T) {
	h := newHarness(t, 300)

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()

	if err := h.c.Start(8); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := h.c.Extend(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("extend while Active should be rejected, got %v", err)
	}
	if h.api.createCalls != 1 {
		t.Errorf("expected one create call, got %d", h.api.createCalls)
	}
	if h.c.State().Session.ID != 101 {
		t.Error("active session replaced")
	}
}

func TestController_StartFailureUsesServerMessage(t *testing.T) {
	h := newHarness(t, 300)
	h.api.createErr = &apiclient.APIError{Status: http.StatusBadRequest, Message: "An active session already exists"}

	h.c.Start(7)
	h.c.Wait()

	if h.c.State().Phase != Idle {
		t.Fatalf("expected Idle, got %s", h.c.State().Phase)
	}
	notice := h.expectNotice(t, events.LevelError)
	if notice.Title != "Start failed" || notice.Detail != "An active session already exists" {
		t.Errorf("unexpected notice %+v", notice)
	}

	h.api.createErr = errors.New("connection refused")
	h.c.Start(7)
	h.c.Wait()
	if notice := h.expectNotice(t, events.LevelError); notice.Detail != "Failed to start attendance" {
		t.Errorf("expected fallback message, got %q", notice.Detail)
	}
}

func TestController_ExpiryFadesToIdle(t *testing.T) {
	h := newHarness(t, 11)

	h.c.Start(7)
	ticker := h.tickers.next(t)
	h.c.Wait()

	step(t, ticker, 1)
	waitFor(t, "near expiry", h.phase(NearExpiry))
	if !h.c.State().NearExpiry {
		t.Error("near-expiry flag should be set at 10")
	}

	step(t, ticker, 10)
	waitFor(t, "expiring", h.phase(Expiring))
	if len(h.c.Students()) != 2 {
		t.Error("roster stays until the fade completes")
	}

	h.sched.runAll()
	waitFor(t, "idle", h.phase(Idle))

	if h.c.State().Session != nil {
		t.Error("session should be cleared")
	}
	if len(h.c.Students()) != 0 {
		t.Error("roster should be cleared")
	}
	if h.c.Visual() != animator.Faded {
		t.Errorf("expected faded card, got %+v", h.c.Visual())
	}
}

func TestController_StartWithExpiredSession(t *testing.T) {
	h := newHarness(t, 0)

	h.c.Start(7)
	h.c.Wait()
	if h.c.State().Phase != Expiring {
		t.Fatalf("expected Expiring, got %s", h.c.State().Phase)
	}

	h.sched.runAll()
	waitFor(t, "idle", h.phase(Idle))
	if h.roster.loads != 0 {
		t.Error("expired session must not load the roster")
	}
}

func TestController_Extend(t *testing.T) {
	h := newHarness(t, 9)
	h.api.extension = &types.Extension{RemainingSeconds: 300, ExpiresAt: time.Now().Add(5 * time.Minute)}

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	if h.c.State().Phase != NearExpiry {
		t.Fatalf("expected NearExpiry, got %s", h.c.State().Phase)
	}

	if err := h.c.Extend(); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	restarted := h.tickers.next(t)
	h.c.Wait()

	s := h.c.State()
	if s.Phase != Active || s.Remaining != 300 || s.NearExpiry {
		t.Fatalf("unexpected state after extend %+v", s)
	}
	if notice := h.expectNotice(t, events.LevelSuccess); notice.Title != "Attendance started" {
		t.Errorf("unexpected first notice %+v", notice)
	}
	if notice := h.expectNotice(t, events.LevelSuccess); notice.Title != "Time extended" {
		t.Errorf("unexpected notice %+v", notice)
	}

	step(t, restarted, 1)
	waitFor(t, "remaining 299", func() bool { return h.c.State().Remaining == 299 })
}

func TestController_ExtendFailureKeepsSession(t *testing.T) {
	h := newHarness(t, 9)
	h.api.extendErr = &apiclient.APIError{Status: http.StatusBadRequest, Message: "Session already expired"}

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	h.c.Extend()
	h.c.Wait()

	s := h.c.State()
	if s.Phase != NearExpiry || s.Session == nil || s.Extending {
		t.Fatalf("failed extension should keep the session, got %+v", s)
	}
	if len(h.api.cancelledIDs()) != 0 {
		t.Error("failed extension must not cancel the session")
	}
	h.expectNotice(t, events.LevelSuccess)
	if notice := h.expectNotice(t, events.LevelError); notice.Detail != "Session already expired" {
		t.Errorf("unexpected notice %+v", notice)
	}
}

func TestController_Cancel(t *testing.T) {
	h := newHarness(t, 300)

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()

	if err := h.c.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	h.c.Wait()

	if h.c.State().Phase != Idle {
		t.Fatalf("expected Idle, got %s", h.c.State().Phase)
	}
	if h.c.Visual() != animator.Normal {
		t.Error("cancel should reset the card without fading")
	}
	if len(h.c.Students()) != 0 {
		t.Error("roster should be cleared")
	}
	if ids := h.api.cancelledIDs(); len(ids) != 1 || ids[0] != 101 {
		t.Errorf("expected cancel of 101, got %v", ids)
	}
}

func TestController_CancelFailureKeepsSession(t *testing.T) {
	h := newHarness(t, 300)
	h.api.cancelErr = errors.New("timeout")

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	h.c.Cancel()
	h.c.Wait()

	if s := h.c.State(); s.Phase != Active || s.Session == nil || s.Cancelling {
		t.Errorf("failed cancel should keep the session, got %+v", s)
	}
}

func TestController_CancelBeforeStartResolves(t *testing.T) {
	h := newHarness(t, 300)
	gate := make(chan struct{})
	h.api.createGate = gate

	h.c.Start(7)
	waitFor(t, "create call", func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return h.api.createCalls == 1
	})

	if err := h.c.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if h.c.State().Phase != Idle {
		t.Fatalf("expected Idle right after cancel, got %s", h.c.State().Phase)
	}

	close(gate)
	h.c.Wait()

	if s := h.c.State(); s.Phase != Idle || s.Session != nil {
		t.Fatalf("late start response resurrected the session: %+v", s)
	}
	if ids := h.api.cancelledIDs(); len(ids) != 1 || ids[0] != 101 {
		t.Errorf("orphaned session should be cancelled, got %v", ids)
	}
	if h.roster.loads != 0 {
		t.Error("roster must not load for an abandoned start")
	}
}

func TestController_ToggleFailureReverts(t *testing.T) {
	h := newHarness(t, 300)
	h.roster.failToggle = errors.New("network down")

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	h.expectNotice(t, events.LevelSuccess)

	err := h.c.Toggle(context.Background(), 1, false)
	if err == nil {
		t.Fatal("expected toggle error")
	}
	for _, s := range h.c.Students() {
		if s.ID == 1 && s.IsPresent {
			t.Error("student 1 should be reverted to absent")
		}
	}
	if notice := h.expectNotice(t, events.LevelError); notice.Detail != "Failed to update attendance" {
		t.Errorf("unexpected notice %+v", notice)
	}
}

func TestController_ToggleSuccessNotice(t *testing.T) {
	h := newHarness(t, 300)

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	h.expectNotice(t, events.LevelSuccess)

	if err := h.c.Toggle(context.Background(), 2, true); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if notice := h.expectNotice(t, events.LevelSuccess); notice.Title != "Attendance unmarked" {
		t.Errorf("unexpected notice %+v", notice)
	}
}

func TestController_RefreshRoster(t *testing.T) {
	h := newHarness(t, 300)
	if err := h.c.RefreshRoster(context.Background()); err == nil {
		t.Error("refresh without a session should fail")
	}

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()

	if err := h.c.RefreshRoster(context.Background()); err != nil {
		t.Fatalf("RefreshRoster() error = %v", err)
	}
	if h.roster.loads != 2 {
		t.Errorf("expected two roster loads, got %d", h.roster.loads)
	}
}

func TestController_RefreshDuringToggle(t *testing.T) {
	tests := []struct {
		name        string
		reloadErr   error
		markErr     error
		wantPresent bool
	}{
		{"failed refresh then rejected mark", errors.New("network down"), errors.New("mark rejected"), false},
		{"successful refresh then accepted mark", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 300)
			h.c.Start(7)
			h.tickers.next(t)
			h.c.Wait()

			entered, gate := make(chan struct{}), make(chan struct{})
			h.roster.mu.Lock()
			h.roster.markEntered = entered
			h.roster.markGate = gate
			h.roster.failToggle = tt.markErr
			h.roster.failEnrolled = tt.reloadErr
			h.roster.mu.Unlock()

			done := make(chan error, 1)
			go func() { done <- h.c.Toggle(context.Background(), 1, false) }()
			<-entered

			err := h.c.RefreshRoster(context.Background())
			if (err != nil) != (tt.reloadErr != nil) {
				t.Fatalf("RefreshRoster() error = %v, expected %v", err, tt.reloadErr)
			}
			close(gate)

			err = <-done
			if (err != nil) != (tt.markErr != nil) {
				t.Errorf("Toggle() error = %v, expected %v", err, tt.markErr)
			}
			for _, s := range h.c.Students() {
				if s.ID == 1 && s.IsPresent != tt.wantPresent {
					t.Errorf("Expected student 1 present=%v, got %v", tt.wantPresent, s.IsPresent)
				}
			}
		})
	}
}

func TestController_Close(t *testing.T) {
	h := newHarness(t, 300)

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()
	h.c.Close()

	if h.c.State().Phase != Idle {
		t.Error("close should leave the controller idle")
	}
	if err := h.c.Start(7); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("expected ErrControllerClosed, got %v", err)
	}
	if err := h.c.Toggle(context.Background(), 1, false); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("expected ErrControllerClosed, got %v", err)
	}
}

// mockFeed forwards events the test pushes
type mockFeed struct {
	events   chan types.PresenceEvent
	followed chan int64
}

func (f *mockFeed) Follow(ctx context.Context, sessionID int64, onEvent func(types.PresenceEvent)) error {
	f.followed <- sessionID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			onEvent(ev)
		}
	}
}

func TestController_LiveFeed(t *testing.T) {
	feed := &mockFeed{events: make(chan types.PresenceEvent), followed: make(chan int64, 4)}
	h := newHarness(t, 300, feed)

	h.c.Start(7)
	h.tickers.next(t)
	h.c.Wait()

	select {
	case id := <-feed.followed:
		if id != 101 {
			t.Errorf("followed session %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("feed not followed")
	}

	feed.events <- types.PresenceEvent{Type: types.PresenceMarked, SessionID: 101, StudentID: 1}
	waitFor(t, "student 1 present", func() bool {
		for _, s := range h.c.Students() {
			if s.ID == 1 {
				return s.IsPresent
			}
		}
		return false
	})
}

// trackedFeed records when Follow has returned
type trackedFeed struct {
	mockFeed
	mu       sync.Mutex
	returned bool
}

func (f *trackedFeed) Follow(ctx context.Context, sessionID int64, onEvent func(types.PresenceEvent)) error {
	err := f.mockFeed.Follow(ctx, sessionID, onEvent)
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	f.returned = true
	f.mu.Unlock()
	return err
}

func TestController_CloseStopsLiveFeed(t *testing.T) {
	feed := &trackedFeed{mockFeed: mockFeed{events: make(chan types.PresenceEvent), followed: make(chan int64, 4)}}
	bus := events.NewBus(64)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bus.Stop() })

	tk := &tickers{created: make(chan *stepTicker, 8)}
	api := &mockSessionAPI{session: &types.AttendanceSession{ID: 101, Code: "AB12", RemainingSeconds: 300}}
	c := NewController(api, &mockRosterAPI{}, bus, Options{NewTicker: tk.factory, Feed: feed})

	c.Start(7)
	tk.next(t)
	c.Wait()
	select {
	case <-feed.followed:
	case <-time.After(time.Second):
		t.Fatal("feed not followed")
	}

	c.Close()
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if !feed.returned {
		t.Error("Close returned before the live feed stopped")
	}
}
