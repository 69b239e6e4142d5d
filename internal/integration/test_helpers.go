package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/apiclient"
	"rollcall/internal/app"
	"rollcall/internal/auth"
	"rollcall/internal/config"
)

// Sandbox is a seeded attendance service listening on a loopback port
type Sandbox struct {
	App    *app.Application
	Server *httptest.Server
}

// StartSandbox serves a fresh seeded sandbox for the duration of the test
func StartSandbox(t *testing.T, configure func(*config.SandboxConfig)) *Sandbox {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sandbox.DatabasePath = filepath.Join(t.TempDir(), "sandbox.db")
	cfg.Sandbox.Seed = true
	if configure != nil {
		configure(cfg.Sandbox)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create sandbox: %v", err)
	}
	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop sandbox: %v", err)
		}
	})

	return &Sandbox{App: application, Server: server}
}

// Token mints a bearer token for userID acting as role
func (s *Sandbox) Token(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, err := s.App.Issuer().Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// Client returns an API client authenticated as lecturerID
func (s *Sandbox) Client(t *testing.T, lecturerID int64) *apiclient.Client {
	t.Helper()
	client, err := apiclient.New(s.Server.URL, 5*time.Second,
		apiclient.StaticToken(s.Token(t, lecturerID, auth.RoleLecturer)))
	if err != nil {
		t.Fatalf("Failed to create API client: %v", err)
	}
	return client
}

// CheckIn submits code as studentID and returns the response status
func (s *Sandbox) CheckIn(t *testing.T, studentID int64, code string) int {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"code": code})
	req, err := http.NewRequest(http.MethodPost, s.Server.URL+"/accounts/student/group-attendance/check-in/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build check-in request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token(t, studentID, auth.RoleStudent))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Check-in request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

// FeedConnections reports how many live feeds the sandbox is serving
func (s *Sandbox) FeedConnections(t *testing.T) int {
	t.Helper()
	resp, err := http.Get(s.Server.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Connections map[string]int `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	return health.Connections["total_connections"]
}

// WaitFor polls cond until it holds or the timeout elapses
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", fmt.Sprintf(format, args...))
}
