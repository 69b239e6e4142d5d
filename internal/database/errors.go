package database

import "errors"

var (
	ErrManagerClosed       = errors.New("database manager is closed")
	ErrWriteTimeout        = errors.New("write operation timeout")
	ErrGroupNotFound       = errors.New("group not found")
	ErrSessionNotFound     = errors.New("attendance session not found")
	ErrSessionNotActive    = errors.New("attendance session is not active")
	ErrActiveSessionExists = errors.New("group already has an active attendance session")
	ErrNotEnrolled         = errors.New("student is not enrolled in the group")
)
