package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNoToken = errors.New("no access token available")
)
