package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codor-dev/codor/internal/types"
)

func TestExecuteTerminalCommandSuccess(t *testing.T) {
	action := types.Action{ID: "a1", Name: "echo", Type: types.ActionTerminalCommand, Command: "echo hello"}
	out := Execute(context.Background(), action, Environment{WorkDir: t.TempDir()})
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", out.ExitCode)
	}
	if out.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "hello\n")
	}
}

func TestExecuteTerminalCommandNonZeroExit(t *testing.T) {
	action := types.Action{ID: "a2", Name: "fail", Type: types.ActionTerminalCommand, Command: "exit 3"}
	out := Execute(context.Background(), action, Environment{WorkDir: t.TempDir()})
	if out.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ExitCode)
	}
	if out.CouldNotRun {
		t.Error("a clean non-zero exit should not be CouldNotRun")
	}
}

// TestExecuteTimeoutKillsSubprocess is grounded on S5 of spec.md §8, scaled
// down: a command sleeping 10s under a 300ms timeout must be reported as
// Killed and return well before the sleep would have finished.
func TestExecuteTimeoutKillsSubprocess(t *testing.T) {
	action := types.Action{
		ID: "a3", Name: "slow", Type: types.ActionTerminalCommand,
		Command: "echo start; sleep 10; echo end",
		Timeout: 300 * time.Millisecond,
	}
	start := time.Now()
	out := Execute(context.Background(), action, Environment{WorkDir: t.TempDir()})
	elapsed := time.Since(start)

	if !out.Killed {
		t.Error("expected Killed=true on timeout")
	}
	if elapsed > 6*time.Second {
		t.Errorf("execution took %v, should have been killed well before the grace+timeout ceiling", elapsed)
	}
}

func TestExecuteFileCheckAllSubchecks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("build succeeded"), 0o644); err != nil {
		t.Fatal(err)
	}

	action := types.Action{
		ID: "f1", Name: "artifact check", Type: types.ActionFileCheck,
		File: "out.txt", ContentSubstring: "succeeded", MinBytes: 1, MaxBytes: 1000,
	}
	out := Execute(context.Background(), action, Environment{WorkDir: dir})
	if out.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0: %s", out.ExitCode, out.Stderr)
	}
}

func TestExecuteFileCheckMissingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	os.WriteFile(path, []byte("nope"), 0o644)

	action := types.Action{ID: "f2", Name: "artifact check", Type: types.ActionFileCheck, File: "out.txt", ContentSubstring: "succeeded"}
	out := Execute(context.Background(), action, Environment{WorkDir: dir})
	if out.ExitCode == 0 {
		t.Error("expected failure when substring is absent")
	}
}

func TestExecuteHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	action := types.Action{ID: "h1", Name: "health", Type: types.ActionHTTPRequest, URL: srv.URL, Method: "GET"}
	out := Execute(context.Background(), action, Environment{})
	if out.HTTPStatus != http.StatusCreated {
		t.Errorf("status = %d, want %d", out.HTTPStatus, http.StatusCreated)
	}
	if out.Stdout != "ok" {
		t.Errorf("body = %q, want %q", out.Stdout, "ok")
	}
}

func TestExecuteHTTPRequestConnectionRefused(t *testing.T) {
	action := types.Action{ID: "h2", Name: "unreachable", Type: types.ActionHTTPRequest, URL: "http://127.0.0.1:1", Method: "GET", Timeout: time.Second}
	out := Execute(context.Background(), action, Environment{})
	if !out.CouldNotRun {
		t.Error("expected CouldNotRun for connection refused")
	}
}
