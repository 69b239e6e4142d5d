package events

import (
	"time"

	"rollcall/pkg/types"
)

// Level grades a user-visible notice
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is a transient toast shown to the lecturer
type Notice struct {
	Level  Level
	Title  string
	Detail string
}

// Transition records a session phase change
type Transition struct {
	From      string
	To        string
	SessionID int64
	At        time.Time
}

// Countdown carries the displayed remaining time
type Countdown struct {
	SessionID  int64
	Remaining  int
	NearExpiry bool
}

// RosterSnapshot is the display-ready roster after a change
type RosterSnapshot struct {
	SessionID int64
	Students  []types.Student
}

// Visual is the presentational state of the session card
// Tint runs 0 (normal) to 1 (alert); Opacity runs 1 (visible) to 0 (faded).
type Visual struct {
	Tint    float64
	Opacity float64
}

var (
	Transitions = NewTopic[Transition]("session.transition")
	Countdowns  = NewTopic[Countdown]("session.countdown")
	Rosters     = NewTopic[RosterSnapshot]("roster.snapshot")
	Notices     = NewTopic[Notice]("notice")
	Visuals     = NewTopic[Visual]("session.visual")
)
