package interfaces

import (
	"context"

	"rollcall/pkg/types"
)

// SessionAPI creates, extends and cancels attendance sessions
// ARCHITECTURAL DISCOVERY: The controller consumes the remote service only through
// this contract so the state machine can be exercised without a network
type SessionAPI interface {
	CreateSession(ctx context.Context, groupID int64) (*types.AttendanceSession, error)
	ExtendSession(ctx context.Context, sessionID int64) (*types.Extension, error)
	CancelSession(ctx context.Context, sessionID int64) error
}

// RosterAPI lists students and records presence for a session
type RosterAPI interface {
	ListEnrolledStudents(ctx context.Context, groupID int64) ([]types.Student, error)
	ListPresentStudents(ctx context.Context, sessionID int64) ([]types.PresentEntry, error)
	MarkPresent(ctx context.Context, sessionID, studentID int64) error
	UnmarkPresent(ctx context.Context, sessionID, studentID int64) error
}

// DirectoryAPI lists the lecturer's groups and their past sessions
type DirectoryAPI interface {
	ListGroups(ctx context.Context) ([]types.Group, error)
	ListGroupSessions(ctx context.Context, groupID int64) ([]types.AttendanceSession, error)
}

// AttendanceAPI is the full remote attendance surface
type AttendanceAPI interface {
	SessionAPI
	RosterAPI
	DirectoryAPI
}
