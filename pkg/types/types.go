package types

import (
	"time"
)

// Presence event types pushed by the attendance service
const (
	PresenceMarked   = "attendance_marked"
	PresenceUnmarked = "attendance_unmarked"
)

// Attendance record statuses reported by the history endpoint
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// AttendanceSession is a time-boxed attendance window owned by one group
// FUNCTIONAL DISCOVERY: ExpiresAt is authoritative for expiry; RemainingSeconds is
// the server's countdown at response time and only seeds the client timer
type AttendanceSession struct {
	ID               int64     `json:"id" validate:"required"`
	GroupID          int64     `json:"group" validate:"required"`
	GroupName        string    `json:"group_name"`
	Code             string    `json:"attendance_code" validate:"required"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"time_remaining"`
}

// Extension is the body returned by the extend endpoint
type Extension struct {
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"time_remaining"`
}

// Student is one roster entry
// IsPresent is client-derived and never trusted from the enrolled-students payload
type Student struct {
	ID                int64   `json:"id" validate:"required"`
	FirstName         string  `json:"first_name"`
	LastName          string  `json:"last_name"`
	Email             string  `json:"email,omitempty"`
	Username          string  `json:"username"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
	IsPresent         bool    `json:"is_present"`
}

// FullName joins first and last name
func (s Student) FullName() string {
	switch {
	case s.LastName == "":
		return s.FirstName
	case s.FirstName == "":
		return s.LastName
	}
	return s.FirstName + " " + s.LastName
}

// PresentEntry identifies a student in the present list of a session
// ARCHITECTURAL DISCOVERY: The attendance service names the key student_id on some
// endpoints and id on others; UnmarshalJSON accepts both
type PresentEntry struct {
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	AttendedAt  time.Time `json:"attended_at,omitempty"`
}

// Group is a student group taught by the lecturer
type Group struct {
	ID              int64  `json:"id" validate:"required"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	ClassID         int64  `json:"class_obj"`
	ClassName       string `json:"class_name"`
	CurrentStudents int    `json:"current_students"`
}

// AttendanceRecord is one student's entry in a past session
type AttendanceRecord struct {
	ID          int64     `json:"id"`
	StudentID   int64     `json:"student"`
	StudentName string    `json:"student_name"`
	AttendedAt  time.Time `json:"attended_at"`
	Status      string    `json:"status,omitempty"`
}

// PresenceEvent is pushed over the live feed when a student's presence changes
type PresenceEvent struct {
	Type      string    `json:"type" validate:"required,oneof=attendance_marked attendance_unmarked"`
	SessionID int64     `json:"session_id" validate:"required"`
	StudentID int64     `json:"student_id" validate:"required"`
	At        time.Time `json:"at"`
}

// Present reports whether the event marks the student present
func (e PresenceEvent) Present() bool {
	return e.Type == PresenceMarked
}
