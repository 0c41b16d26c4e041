package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestInitCreatesDotCodorDir(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	if err := Init(false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, CodorDir, "config.yaml")); err != nil {
		t.Errorf("expected config.yaml: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CodorDir, "evidence")); err != nil {
		t.Errorf("expected evidence dir: %v", err)
	}
}

func TestInitWithoutForceRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	if err := Init(false); err != nil {
		t.Fatal(err)
	}
	if err := Init(false); err != ErrWorkspaceExists {
		t.Errorf("got %v, want ErrWorkspaceExists", err)
	}
	if err := Init(true); err != nil {
		t.Errorf("force re-init failed: %v", err)
	}
}

func TestFindWalksUpToWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	chdir(t, root)
	if err := Init(false); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	chdir(t, nested)

	got, err := Find()
	if err != nil {
		t.Fatal(err)
	}
	// Resolve symlinks (e.g. /tmp -> /private/tmp on macOS) before comparing.
	wantReal, _ := filepath.EvalSymlinks(root)
	gotReal, _ := filepath.EvalSymlinks(got)
	if gotReal != wantReal {
		t.Errorf("got %q, want %q", gotReal, wantReal)
	}
}

func TestFindReturnsErrNoWorkspaceOutsideAny(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := Find(); err != ErrNoWorkspace {
		t.Errorf("got %v, want ErrNoWorkspace", err)
	}
}

func TestAcquireLockPreventsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := Init(false); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	if _, err := AcquireLock(dir); err != ErrSprintRunning {
		t.Errorf("got %v, want ErrSprintRunning", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	second, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("expected lock to be acquirable after release: %v", err)
	}
	second.Release()
}
