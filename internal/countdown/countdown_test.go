package countdown

import (
	"testing"
	"time"
)

// manualTicker fires only when the test sends on ch
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{}, 1)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop() {
	select {
	case m.stopped <- struct{}{}:
	default:
	}
}

type tickerQueue struct {
	tickers chan *manualTicker
}

func newTickerQueue() *tickerQueue {
	return &tickerQueue{tickers: make(chan *manualTicker, 10)}
}

func (q *tickerQueue) factory(time.Duration) Ticker {
	tk := newManualTicker()
	q.tickers <- tk
	return tk
}

func (q *tickerQueue) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-q.tickers:
		return tk
	case <-time.After(time.Second):
		t.Fatal("no ticker created")
		return nil
	}
}

func fire(t *testing.T, tk *manualTicker) {
	t.Helper()
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("ticker not consumed")
	}
}

func recv(t *testing.T, ticks <-chan Tick) Tick {
	t.Helper()
	select {
	case tick := <-ticks:
		return tick
	case <-time.After(time.Second):
		t.Fatal("no tick delivered")
		return Tick{}
	}
}

func TestStep(t *testing.T) {
	tests := []struct {
		remaining int
		want      Tick
	}{
		{300, Tick{Remaining: 299}},
		{12, Tick{Remaining: 11}},
		{11, Tick{Remaining: 10, NearExpiry: true}},
		{10, Tick{Remaining: 9, NearExpiry: true}},
		{2, Tick{Remaining: 1, NearExpiry: true}},
		{1, Tick{Remaining: 0, Expired: true}},
		{0, Tick{Remaining: 0, Expired: true}},
		{-5, Tick{Remaining: 0, Expired: true}},
	}

	for _, tt := range tests {
		if got := Step(tt.remaining); got != tt.want {
			t.Errorf("Step(%d) = %+v, want %+v", tt.remaining, got, tt.want)
		}
	}
}

func TestStep_MonotonicAndThreshold(t *testing.T) {
	remaining := 40
	for remaining > 0 {
		tick := Step(remaining)
		if tick.Remaining > remaining || tick.Remaining < 0 {
			t.Fatalf("countdown went from %d to %d", remaining, tick.Remaining)
		}
		wantNear := tick.Remaining > 0 && tick.Remaining <= 10
		if tick.NearExpiry != wantNear {
			t.Fatalf("NearExpiry at %d = %v, want %v", tick.Remaining, tick.NearExpiry, wantNear)
		}
		remaining = tick.Remaining
	}
}

func TestTimer_CountsDownAndExpiresOnce(t *testing.T) {
	queue := newTickerQueue()
	timer := NewTimer(time.Second, queue.factory)
	ticks := make(chan Tick, 10)

	timer.Start(4, 3, func(tick Tick) { ticks <- tick })
	tk := queue.next(t)

	for _, want := range []int{2, 1, 0} {
		fire(t, tk)
		tick := recv(t, ticks)
		if tick.Remaining != want {
			t.Fatalf("expected remaining %d, got %d", want, tick.Remaining)
		}
		if tick.Generation != 4 {
			t.Errorf("expected generation 4, got %d", tick.Generation)
		}
		if tick.Expired != (want == 0) {
			t.Errorf("Expired at %d = %v", want, tick.Expired)
		}
	}

	select {
	case <-tk.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker should be stopped after expiry")
	}
	if timer.Running() {
		t.Error("timer should not be running after expiry")
	}
}

func TestTimer_RestartTearsDownPrevious(t *testing.T) {
	queue := newTickerQueue()
	timer := NewTimer(time.Second, queue.factory)
	ticks := make(chan Tick, 10)

	timer.Start(1, 100, func(tick Tick) { ticks <- tick })
	first := queue.next(t)

	timer.Start(2, 50, func(tick Tick) { ticks <- tick })
	second := queue.next(t)

	select {
	case <-first.stopped:
	case <-time.After(time.Second):
		t.Fatal("previous ticker should be stopped on restart")
	}

	fire(t, second)
	tick := recv(t, ticks)
	if tick.Generation != 2 || tick.Remaining != 49 {
		t.Errorf("expected tick from new run, got %+v", tick)
	}
}

func TestTimer_StopPreventsTicks(t *testing.T) {
	queue := newTickerQueue()
	timer := NewTimer(time.Second, queue.factory)
	ticks := make(chan Tick, 10)

	timer.Start(1, 100, func(tick Tick) { ticks <- tick })
	tk := queue.next(t)
	timer.Stop()

	select {
	case <-tk.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker should be stopped")
	}

	select {
	case tk.ch <- time.Now():
		t.Error("stopped timer should not consume ticks")
	case <-time.After(50 * time.Millisecond):
	}
	if timer.Running() {
		t.Error("timer should not be running after Stop")
	}
}

func TestTimer_RealTicker(t *testing.T) {
	timer := NewTimer(5*time.Millisecond, nil)
	ticks := make(chan Tick, 10)

	timer.Start(1, 2, func(tick Tick) { ticks <- tick })
	defer timer.Stop()

	first := recv(t, ticks)
	second := recv(t, ticks)
	if first.Remaining != 1 || !second.Expired {
		t.Errorf("unexpected ticks %+v %+v", first, second)
	}
}
