package apiclient

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBaseURL   = errors.New("api base URL must be absolute http(s)")
	ErrInvalidResponse  = errors.New("attendance service returned an invalid payload")
	ErrUnexpectedStatus = errors.New("attendance service returned an unexpected status")
)

// APIError is a non-success response from the attendance service
// FUNCTIONAL DISCOVERY: Message holds the server's human-readable text when the
// body carried one; it is shown to the lecturer in preference to local fallbacks
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// UserMessage picks the text shown to the lecturer for err
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
