package interfaces

import "context"

// TokenSource supplies the current bearer credential
// FUNCTIONAL DISCOVERY: Storage and refresh belong to the token owner; callers
// only ask for the current value before each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
