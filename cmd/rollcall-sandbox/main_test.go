package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"rollcall/internal/auth"
	"rollcall/internal/config"
)

func TestMintToken(t *testing.T) {
	cfg := config.DefaultConfig()

	var out bytes.Buffer
	if err := mintToken(&out, cfg, 101, auth.RoleStudent, time.Hour); err != nil {
		t.Fatalf("mintToken failed: %v", err)
	}

	issuer, err := auth.NewIssuer(cfg.Sandbox.JWTSecret, nil)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	claims, err := issuer.Parse(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Minted token does not verify: %v", err)
	}
	if claims.UserID != 101 || claims.Role != auth.RoleStudent {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func TestMintToken_Rejections(t *testing.T) {
	cfg := config.DefaultConfig()
	var out bytes.Buffer

	if err := mintToken(&out, cfg, 1, "admin", time.Hour); err == nil {
		t.Error("Expected unknown role to be rejected")
	}

	cfg.Sandbox.JWTSecret = "short"
	if err := mintToken(&out, cfg, 1, auth.RoleLecturer, time.Hour); err == nil {
		t.Error("Expected weak secret to be rejected")
	}
	if out.Len() != 0 {
		t.Errorf("Expected no output on failure, got %q", out.String())
	}
}

func TestTokenCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "2", "--ttl", "1h"})

	if err := root.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Errorf("Expected a JWT on stdout, got %q", out.String())
	}
}

func TestServeCommand_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("ROLLCALL_SANDBOX_PORT", "0")
	cfg := config.LoadFromEnv()

	if err := run(cfg); err == nil {
		t.Error("Expected run to reject an invalid configuration")
	}
}
