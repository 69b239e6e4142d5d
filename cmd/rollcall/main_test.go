package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"rollcall/internal/auth"
	"rollcall/internal/database"
	"rollcall/internal/integration"
)

func runCLI(t *testing.T, sandbox *integration.Sandbox, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(strings.NewReader(stdin))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)

	token := sandbox.Token(t, database.SeedLecturerID, auth.RoleLecturer)
	root.SetArgs(append(args, "--base-url", sandbox.Server.URL, "--token", token))
	err := root.Execute()
	return out.String(), err
}

func TestGroupsCommand(t *testing.T) {
	sandbox := integration.StartSandbox(t, nil)

	out, err := runCLI(t, sandbox, "", "groups")
	if err != nil {
		t.Fatalf("groups failed: %v\n%s", err, out)
	}
	for _, want := range []string{"CS101 Group A", "CS101 Group B", "Introduction to Programming"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MATH200") {
		t.Errorf("Another lecturer's group leaked into output:\n%s", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	sandbox := integration.StartSandbox(t, nil)
	client := sandbox.Client(t, database.SeedLecturerID)
	ctx := context.Background()

	out, err := runCLI(t, sandbox, "", "history", "10")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No attendance sessions yet") {
		t.Errorf("Expected empty history, got:\n%s", out)
	}

	session, err := client.CreateSession(ctx, database.SeedGroupID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := client.MarkPresent(ctx, session.ID, 103); err != nil {
		t.Fatalf("MarkPresent failed: %v", err)
	}

	out, err = runCLI(t, sandbox, "", "history", "10")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, session.Code) || !strings.Contains(out, "active") {
		t.Errorf("Expected active session %s listed, got:\n%s", session.Code, out)
	}

	out, err = runCLI(t, sandbox, "", "history", "10", "--session", fmt.Sprint(session.ID))
	if err != nil {
		t.Fatalf("history --session failed: %v", err)
	}
	if !strings.Contains(out, "1 of 6 present") {
		t.Errorf("Expected 1 of 6 present, got:\n%s", out)
	}

	if _, err := runCLI(t, sandbox, "", "history", "abc"); err == nil {
		t.Error("Expected invalid group id to fail")
	}
	if _, err := runCLI(t, sandbox, "", "history", "20"); err == nil {
		t.Error("Expected another lecturer's group to fail")
	}
}

func TestRunCommand(t *testing.T) {
	sandbox := integration.StartSandbox(t, nil)
	client := sandbox.Client(t, database.SeedLecturerID)

	stdin := "list\ntoggle 101\ntoggle 999\nextend\nbogus\ncancel\n"
	out, err := runCLI(t, sandbox, stdin, "run", "10")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	for _, want := range []string{
		"Attendance started",
		"0 of 6 present",
		"Attendance marked",
		"student 999 is not on the roster",
		"extend is not possible right now",
		`Unknown command "bogus"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	ctx := context.Background()
	history, err := client.ListGroupSessions(ctx, database.SeedGroupID)
	if err != nil {
		t.Fatalf("ListGroupSessions failed: %v", err)
	}
	if len(history) != 1 || history[0].IsActive {
		t.Fatalf("Expected the console's session to be cancelled, got %+v", history)
	}
	present, err := client.ListPresentStudents(ctx, history[0].ID)
	if err != nil {
		t.Fatalf("ListPresentStudents failed: %v", err)
	}
	if len(present) != 1 || present[0].StudentID != 101 {
		t.Errorf("Expected student 101 recorded, got %+v", present)
	}
}

func TestRunCommand_StartFailure(t *testing.T) {
	sandbox := integration.StartSandbox(t, nil)

	out, err := runCLI(t, sandbox, "", "run", "20")
	if err == nil {
		t.Fatalf("Expected run on another lecturer's group to fail:\n%s", out)
	}
	if !strings.Contains(out, "You do not have permission to access this group") {
		t.Errorf("Expected server message in output:\n%s", out)
	}
}
