package types

import "errors"

var (
	ErrMissingStudentID = errors.New("present entry carries neither student_id nor id")
	ErrInvalidSession   = errors.New("attendance session is missing id, group or code")
	ErrInvalidStudent   = errors.New("student is missing id")
	ErrInvalidEvent     = errors.New("presence event is malformed")
)
