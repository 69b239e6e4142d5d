package roster

import "errors"

var (
	ErrNoSession      = errors.New("no active attendance session")
	ErrUnknownStudent = errors.New("student is not on the roster")
	ErrStaleLoad      = errors.New("roster load superseded by a newer session")
)
