package types

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator is shared by every package that checks decoded payloads
// TECHNICAL DISCOVERY: validator caches struct metadata, so one instance is reused
var Validator = validator.New()

// Validate checks the fields the controller relies on
func (s *AttendanceSession) Validate() error {
	if err := Validator.Struct(s); err != nil {
		return ErrInvalidSession
	}
	return nil
}

// Validate checks the roster entry has an identity
func (s *Student) Validate() error {
	if err := Validator.Struct(s); err != nil {
		return ErrInvalidStudent
	}
	return nil
}

// Validate checks a pushed presence event before it touches the roster
func (e *PresenceEvent) Validate() error {
	if err := Validator.Struct(e); err != nil {
		return ErrInvalidEvent
	}
	return nil
}

// UnmarshalJSON accepts {"student_id": n} and {"id": n}
// FUNCTIONAL DISCOVERY: student_id wins when both are present and non-zero;
// history rows use id for the record itself and student_id for the student
func (p *PresentEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		StudentID   *int64     `json:"student_id"`
		ID          *int64     `json:"id"`
		StudentName string     `json:"student_name"`
		AttendedAt  *time.Time `json:"attended_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.StudentID != nil && *raw.StudentID != 0:
		p.StudentID = *raw.StudentID
	case raw.ID != nil && *raw.ID != 0:
		p.StudentID = *raw.ID
	default:
		return ErrMissingStudentID
	}

	p.StudentName = raw.StudentName
	if raw.AttendedAt != nil {
		p.AttendedAt = *raw.AttendedAt
	}
	return nil
}

// PresentIDs builds the membership set used by the roster merge
func PresentIDs(entries []PresentEntry) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		ids[e.StudentID] = struct{}{}
	}
	return ids
}
