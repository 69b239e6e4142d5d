package livefeed

import "errors"

var (
	ErrInvalidBaseURL = errors.New("live feed base URL must be absolute http(s) or ws(s)")
	ErrFeedClosed     = errors.New("live feed closed by server")
)
