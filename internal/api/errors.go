package api

import "errors"

// ErrCodeExhausted is returned when no unused check-in code could be drawn
var ErrCodeExhausted = errors.New("failed to generate a unique attendance code")
