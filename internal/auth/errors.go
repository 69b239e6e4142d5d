package auth

import "errors"

var (
	ErrMissingToken   = errors.New("authorization header is required")
	ErrMalformedToken = errors.New("authorization header must be in the format: Bearer {token}")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrUnknownRole    = errors.New("unknown role")
	ErrWeakSecret     = errors.New("jwt secret must be at least 8 bytes")
)
