package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"analyzer/internal/middleware"
)

func setMemoryEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	catalog := "categories:\n  - id: bug-report\n    label: Bug report\n    system_prompt: Triage.\nadvice:\n  - id: concise\n    name: Concise\n    prompt: Be brief.\n"
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "cli-test-secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CATALOG_PATH", catalogPath)
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "storage"))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsageCommand(t *testing.T) {
	setMemoryEnv(t)
	out, err := run(t, "usage", "--owner", "alice")
	if err != nil {
		t.Fatalf("usage: %v\n%s", err, out)
	}
	if !strings.Contains(out, "used:       0 / 20") || !strings.Contains(out, "can submit: true") {
		t.Fatalf("output = %q", out)
	}
}

func TestCommandsRequireOwner(t *testing.T) {
	setMemoryEnv(t)
	for _, name := range []string{"usage", "history", "token"} {
		if _, err := run(t, name); err == nil || !strings.Contains(err.Error(), "--owner") {
			t.Fatalf("%s without owner: err = %v", name, err)
		}
	}
}

func TestHistoryAndReapOnEmptyStore(t *testing.T) {
	setMemoryEnv(t)
	out, err := run(t, "history", "--owner", "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.HasPrefix(out, "ID") || strings.Contains(out, "next:") {
		t.Fatalf("history output = %q", out)
	}

	out, err = run(t, "reap")
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if !strings.Contains(out, "reaped 0 request(s)") {
		t.Fatalf("reap output = %q", out)
	}
}

func TestTokenCommand(t *testing.T) {
	setMemoryEnv(t)
	out, err := run(t, "token", "--owner", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := middleware.VerifyJWT("cli-test-secret", strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if claims.Sub != "alice" || claims.Exp == 0 {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestMigrateRejectsMemoryBackend(t *testing.T) {
	setMemoryEnv(t)
	if _, err := run(t, "migrate"); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("migrate err = %v", err)
	}
}

func TestExportUnknownRequest(t *testing.T) {
	setMemoryEnv(t)
	if _, err := run(t, "export", "--owner", "alice"); err == nil || !strings.Contains(err.Error(), "--id") {
		t.Fatalf("export without id: err = %v", err)
	}
	_, err := run(t, "export", "--owner", "alice", "--id", "00000000-0000-0000-0000-000000000000", "-o", filepath.Join(t.TempDir(), "x.zip"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("export missing request: err = %v", err)
	}
}

func TestCredentialsNeedPostgres(t *testing.T) {
	setMemoryEnv(t)
	if _, err := run(t, "credentials", "show", "--provider", "openai"); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("credentials show err = %v", err)
	}
	if _, err := run(t, "credentials", "set", "--provider", "acme", "--key", "k"); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("credentials set err = %v", err)
	}
}
