package session

import (
	"rollcall/internal/countdown"
	"rollcall/internal/events"
	"rollcall/pkg/types"
)

// Phase is the lifecycle position of the attendance session
type Phase int

const (
	Idle Phase = iota
	Starting
	Active
	NearExpiry
	Expiring
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case NearExpiry:
		return "near_expiry"
	case Expiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// State is everything the controller knows about its one session
// ARCHITECTURAL DISCOVERY: Generation tags every request issued for a session and
// advances whenever the session is abandoned; TimerRun tags countdown ticks and
// advances whenever the countdown is (re)started. Results carrying an old tag are
// dropped without touching the state.
type State struct {
	Phase      Phase
	GroupID    int64
	Session    *types.AttendanceSession
	Remaining  int
	NearExpiry bool
	Extending  bool
	Cancelling bool
	Generation uint64
	TimerRun   uint64
}

// Action is an input to Reduce
type Action interface{ isAction() }

type (
	StartRequested struct{ GroupID int64 }
	StartSucceeded struct {
		Generation uint64
		Session    *types.AttendanceSession
	}
	StartFailed struct {
		Generation uint64
		Err        error
	}
	Tick struct {
		Run       uint64
		Remaining int
		Expired   bool
	}
	ExtendRequested struct{}
	ExtendSucceeded struct {
		Generation uint64
		Extension  *types.Extension
	}
	ExtendFailed struct {
		Generation uint64
		Err        error
	}
	CancelRequested struct{}
	CancelSucceeded struct{ Generation uint64 }
	CancelFailed    struct {
		Generation uint64
		Err        error
	}
	ExpiryFinished struct{ Generation uint64 }
	Closed         struct{}
)

func (StartRequested) isAction()  {}
func (StartSucceeded) isAction()  {}
func (StartFailed) isAction()     {}
func (Tick) isAction()            {}
func (ExtendRequested) isAction() {}
func (ExtendSucceeded) isAction() {}
func (ExtendFailed) isAction()    {}
func (CancelRequested) isAction() {}
func (CancelSucceeded) isAction() {}
func (CancelFailed) isAction()    {}
func (ExpiryFinished) isAction()  {}
func (Closed) isAction()          {}

// Effect is work the controller performs after a transition
type Effect interface{ isEffect() }

type (
	CallCreate struct {
		Generation uint64
		GroupID    int64
	}
	CallExtend struct {
		Generation uint64
		SessionID  int64
	}
	CallCancel struct {
		Generation uint64
		SessionID  int64
	}
	// DiscardSession cancels a server session nobody is waiting for anymore
	DiscardSession struct{ SessionID int64 }
	StartTimer     struct {
		Run       uint64
		Remaining int
	}
	StopTimer   struct{}
	LoadRoster  struct{ Session *types.AttendanceSession }
	ClearRoster struct{}
	PlayExpiry  struct{ Generation uint64 }
	ResetVisual struct{}
	// Notify carries message keys; the controller resolves them to text
	Notify struct {
		Level  events.Level
		Title  string
		Detail string
		Args   []any
		Err    error
	}
	PublishTransition struct {
		From, To  Phase
		SessionID int64
	}
	PublishCountdown struct {
		SessionID  int64
		Remaining  int
		NearExpiry bool
	}
)

func (CallCreate) isEffect()        {}
func (CallExtend) isEffect()        {}
func (CallCancel) isEffect()        {}
func (DiscardSession) isEffect()    {}
func (StartTimer) isEffect()        {}
func (StopTimer) isEffect()         {}
func (LoadRoster) isEffect()        {}
func (ClearRoster) isEffect()       {}
func (PlayExpiry) isEffect()        {}
func (ResetVisual) isEffect()       {}
func (Notify) isEffect()            {}
func (PublishTransition) isEffect() {}
func (PublishCountdown) isEffect()  {}

// Allowed reports whether a user-initiated action is valid in s
// Asynchronous results are always allowed; Reduce decides whether they are stale.
func Allowed(s State, a Action) bool {
	switch a.(type) {
	case StartRequested:
		return s.Phase == Idle
	case ExtendRequested:
		return s.Phase == NearExpiry && !s.Extending && !s.Cancelling
	case CancelRequested:
		return s.Phase == Starting || (live(s.Phase) && !s.Cancelling)
	default:
		return true
	}
}

// Reduce applies a to s and returns the next state with the effects to run
// It is pure: the input state is never modified.
func Reduce(s State, a Action) (State, []Effect) {
	if !Allowed(s, a) {
		return s, nil
	}

	switch a := a.(type) {
	case StartRequested:
		next := s
		next.Generation++
		next.Phase = Starting
		next.GroupID = a.GroupID
		return next, []Effect{
			PublishTransition{From: s.Phase, To: Starting},
			CallCreate{Generation: next.Generation, GroupID: a.GroupID},
		}

	case StartSucceeded:
		if a.Generation != s.Generation || s.Phase != Starting {
			if a.Session != nil {
				return s, []Effect{DiscardSession{SessionID: a.Session.ID}}
			}
			return s, nil
		}
		if a.Session == nil {
			return Reduce(s, StartFailed{Generation: a.Generation})
		}
		session := *a.Session
		next := s
		next.Session = &session
		if session.RemainingSeconds <= 0 {
			return expire(s, next)
		}
		next = seed(next, session.RemainingSeconds)
		return next, []Effect{
			PublishTransition{From: s.Phase, To: next.Phase, SessionID: session.ID},
			ResetVisual{},
			StartTimer{Run: next.TimerRun, Remaining: next.Remaining},
			PublishCountdown{SessionID: session.ID, Remaining: next.Remaining, NearExpiry: next.NearExpiry},
			LoadRoster{Session: next.Session},
			Notify{Level: events.LevelSuccess, Title: MsgAttendanceStarted, Detail: MsgAttendanceCode, Args: []any{session.Code}},
		}

	case StartFailed:
		if a.Generation != s.Generation || s.Phase != Starting {
			return s, nil
		}
		next := idle(s)
		return next, []Effect{
			PublishTransition{From: s.Phase, To: Idle},
			Notify{Level: events.LevelError, Title: MsgStartFailed, Detail: MsgFailedStart, Err: a.Err},
		}

	case Tick:
		if a.Run != s.TimerRun || !live(s.Phase) {
			return s, nil
		}
		if a.Expired {
			return expire(s, s)
		}
		next := s
		next.Remaining = max(0, a.Remaining)
		next.NearExpiry = countdown.IsNearExpiry(next.Remaining)
		next.Phase = phaseFor(next.Remaining)
		effects := []Effect{
			PublishCountdown{SessionID: s.Session.ID, Remaining: next.Remaining, NearExpiry: next.NearExpiry},
		}
		if next.Phase != s.Phase {
			effects = append(effects, PublishTransition{From: s.Phase, To: next.Phase, SessionID: s.Session.ID})
		}
		return next, effects

	case ExtendRequested:
		next := s
		next.Extending = true
		return next, []Effect{CallExtend{Generation: s.Generation, SessionID: s.Session.ID}}

	case ExtendSucceeded:
		if a.Generation != s.Generation {
			return s, nil
		}
		next := s
		next.Extending = false
		if !live(s.Phase) || a.Extension == nil {
			return next, nil
		}
		session := *s.Session
		session.ExpiresAt = a.Extension.ExpiresAt
		session.RemainingSeconds = a.Extension.RemainingSeconds
		next.Session = &session
		if session.RemainingSeconds <= 0 {
			return expire(s, next)
		}
		next = seed(next, session.RemainingSeconds)
		effects := []Effect{
			ResetVisual{},
			StartTimer{Run: next.TimerRun, Remaining: next.Remaining},
			PublishCountdown{SessionID: session.ID, Remaining: next.Remaining, NearExpiry: next.NearExpiry},
		}
		if next.Phase != s.Phase {
			effects = append(effects, PublishTransition{From: s.Phase, To: next.Phase, SessionID: session.ID})
		}
		return next, append(effects,
			LoadRoster{Session: next.Session},
			Notify{Level: events.LevelSuccess, Title: MsgTimeExtended, Detail: MsgTimeExtendedDetail},
		)

	case ExtendFailed:
		if a.Generation != s.Generation {
			return s, nil
		}
		next := s
		next.Extending = false
		return next, []Effect{
			Notify{Level: events.LevelError, Title: MsgExtensionFailed, Detail: MsgFailedExtend, Err: a.Err},
		}

	case CancelRequested:
		if s.Phase == Starting {
			// The create call stays in flight; its result arrives stale.
			return idle(s), []Effect{
				PublishTransition{From: Starting, To: Idle},
				ResetVisual{},
			}
		}
		next := s
		next.Cancelling = true
		return next, []Effect{CallCancel{Generation: s.Generation, SessionID: s.Session.ID}}

	case CancelSucceeded:
		if a.Generation != s.Generation || s.Session == nil {
			return s, nil
		}
		return idle(s), []Effect{
			StopTimer{},
			ResetVisual{},
			ClearRoster{},
			PublishTransition{From: s.Phase, To: Idle, SessionID: s.Session.ID},
			Notify{Level: events.LevelSuccess, Title: MsgAttendanceCancelled, Detail: MsgAttendanceCancelledDetail},
		}

	case CancelFailed:
		if a.Generation != s.Generation {
			return s, nil
		}
		next := s
		next.Cancelling = false
		return next, []Effect{
			Notify{Level: events.LevelError, Title: MsgCancellationFailed, Detail: MsgFailedCancel, Err: a.Err},
		}

	case ExpiryFinished:
		if a.Generation != s.Generation || s.Phase != Expiring {
			return s, nil
		}
		var sessionID int64
		if s.Session != nil {
			sessionID = s.Session.ID
		}
		return idle(s), []Effect{
			ClearRoster{},
			PublishTransition{From: Expiring, To: Idle, SessionID: sessionID},
		}

	case Closed:
		effects := []Effect{StopTimer{}, ResetVisual{}, ClearRoster{}}
		if s.Phase != Idle {
			effects = append(effects, PublishTransition{From: s.Phase, To: Idle})
		}
		return idle(s), effects
	}

	return s, nil
}

// seed starts a fresh countdown from remaining
func seed(s State, remaining int) State {
	s.TimerRun++
	s.Remaining = remaining
	s.NearExpiry = countdown.IsNearExpiry(remaining)
	s.Phase = phaseFor(remaining)
	return s
}

// expire moves next into Expiring; prev supplies the phase being left
func expire(prev, next State) (State, []Effect) {
	next.Phase = Expiring
	next.Remaining = 0
	next.NearExpiry = false
	next.Extending = false
	next.Cancelling = false
	return next, []Effect{
		StopTimer{},
		PublishCountdown{SessionID: next.Session.ID},
		PublishTransition{From: prev.Phase, To: Expiring, SessionID: next.Session.ID},
		PlayExpiry{Generation: next.Generation},
	}
}

// idle abandons the session; anything still in flight becomes stale
func idle(s State) State {
	return State{
		Phase:      Idle,
		Generation: s.Generation + 1,
		TimerRun:   s.TimerRun,
	}
}

func phaseFor(remaining int) Phase {
	if countdown.IsNearExpiry(remaining) {
		return NearExpiry
	}
	return Active
}

func live(p Phase) bool {
	return p == Active || p == NearExpiry
}
