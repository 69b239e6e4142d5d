// Package apiclient talks JSON over HTTP to the remote attendance service.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

const (
	accountsPrefix = "accounts/"
	maxErrorBody   = 64 << 10
)

// Client implements interfaces.AttendanceAPI
// ARCHITECTURAL DISCOVERY: One client per lecturer; the token is resolved per request
// so rotation by the token owner takes effect without rebuilding the client
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	tokens      interfaces.TokenSource
	logRequests bool
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestLogging logs "[API] METHOD path" for every call
func WithRequestLogging(enabled bool) Option {
	return func(c *Client) { c.logRequests = enabled }
}

// New creates a client rooted at baseURL (the service root, without /accounts/)
func New(baseURL string, timeout time.Duration, tokens interfaces.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the service root
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// CreateSession starts an attendance session for a group
func (c *Client) CreateSession(ctx context.Context, groupID int64) (*types.AttendanceSession, error) {
	var session types.AttendanceSession
	body := map[string]int64{"group": groupID}
	if err := c.do(ctx, http.MethodPost, "lecturer/group-attendance/", body, &session, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &session, nil
}

// ExtendSession pushes the session's expiry out
func (c *Client) ExtendSession(ctx context.Context, sessionID int64) (*types.Extension, error) {
	var ext types.Extension
	path := fmt.Sprintf("lecturer/group-attendance/%d/extend/", sessionID)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &ext, http.StatusOK); err != nil {
		return nil, err
	}
	return &ext, nil
}

// CancelSession ends the session early
func (c *Client) CancelSession(ctx context.Context, sessionID int64) error {
	path := fmt.Sprintf("lecturer/group-attendance/%d/cancel/", sessionID)
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil, http.StatusOK, http.StatusNoContent)
}

// ListEnrolledStudents returns every student enrolled in the group
func (c *Client) ListEnrolledStudents(ctx context.Context, groupID int64) ([]types.Student, error) {
	var students []types.Student
	path := fmt.Sprintf("lecturer/groups/%d/enrolled-students/", groupID)
	if err := c.do(ctx, http.MethodGet, path, nil, &students, http.StatusOK); err != nil {
		return nil, err
	}
	for i := range students {
		if err := students[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: student %d: %v", ErrInvalidResponse, i, err)
		}
		students[i].IsPresent = false
	}
	return students, nil
}

// ListPresentStudents returns the students marked present in the session
func (c *Client) ListPresentStudents(ctx context.Context, sessionID int64) ([]types.PresentEntry, error) {
	var present []types.PresentEntry
	path := fmt.Sprintf("lecturer/group-attendance/%d/students/", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &present, http.StatusOK); err != nil {
		return nil, err
	}
	return present, nil
}

// MarkPresent records the student as present
func (c *Client) MarkPresent(ctx context.Context, sessionID, studentID int64) error {
	path := fmt.Sprintf("lecturer/group-attendance/%d/mark/", sessionID)
	return c.do(ctx, http.MethodPost, path, map[string]int64{"student_id": studentID}, nil, http.StatusOK, http.StatusCreated)
}

// UnmarkPresent removes the student's presence
func (c *Client) UnmarkPresent(ctx context.Context, sessionID, studentID int64) error {
	path := fmt.Sprintf("lecturer/group-attendance/%d/unmark/", sessionID)
	return c.do(ctx, http.MethodPost, path, map[string]int64{"student_id": studentID}, nil, http.StatusOK, http.StatusNoContent)
}

// ListGroups returns the lecturer's groups
func (c *Client) ListGroups(ctx context.Context) ([]types.Group, error) {
	var groups []types.Group
	if err := c.do(ctx, http.MethodGet, "lecturer/groups/", nil, &groups, http.StatusOK); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListGroupSessions returns past and current attendance sessions of a group
func (c *Client) ListGroupSessions(ctx context.Context, groupID int64) ([]types.AttendanceSession, error) {
	var sessions []types.AttendanceSession
	path := fmt.Sprintf("lecturer/groups/%d/attendance/", groupID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions, http.StatusOK); err != nil {
		return nil, err
	}
	return sessions, nil
}

// do sends one request and decodes a success body into out
func (c *Client) do(ctx context.Context, method, path string, body, out any, okStatus ...int) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: failed to encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: accountsPrefix + path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.logRequests {
		log.Printf("[API] %s %s", method, endpoint.Path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		}
	}

	if !statusIn(resp.StatusCode, okStatus) {
		return fmt.Errorf("%s %s: %w: %d", method, path, ErrUnexpectedStatus, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrInvalidResponse, err)
	}
	return nil
}

func statusIn(code int, accepted []int) bool {
	for _, s := range accepted {
		if code == s {
			return true
		}
	}
	return false
}

// errorMessage extracts the server's message from an error body
// FUNCTIONAL DISCOVERY: The service uses "error" for business failures and "detail"
// for auth/permission failures; "message" appears on some proxies
func errorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"error", "detail", "message"} {
		if msg, ok := payload[key].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}
