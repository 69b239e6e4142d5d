package session

import "errors"

var (
	ErrInvalidTransition = errors.New("action not allowed in the current session state")
	ErrControllerClosed  = errors.New("session controller is closed")
)
