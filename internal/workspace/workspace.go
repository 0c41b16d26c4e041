// Package workspace locates a CODOR workspace (the .codor directory),
// its persistent-state paths, and the advisory lock that enforces
// spec.md §5's single-running-sprint-per-workspace invariant.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const CodorDir = ".codor"

var ErrNoWorkspace = errors.New("no codor workspace found (run 'codor init' first)")
var ErrWorkspaceExists = errors.New("codor workspace already exists (use --force to overwrite)")

// ErrSprintRunning is returned by AcquireLock when another controller instance
// already holds the workspace's advisory lock.
var ErrSprintRunning = errors.New("a sprint is already running in this workspace")

// Find walks up from cwd looking for a .codor/ directory.
func Find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		codorPath := filepath.Join(dir, CodorDir)
		if info, err := os.Stat(codorPath); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}

// Path returns the .codor directory path for a workspace.
func Path(workspaceDir string) string {
	return filepath.Join(workspaceDir, CodorDir)
}

// ConfigPath returns the config.yaml path.
func ConfigPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, CodorDir, "config.yaml")
}

// TasksDBPath returns the embedded task store path.
func TasksDBPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, CodorDir, "tasks.db")
}

// EvidenceDir returns the evidence artifact tree root.
func EvidenceDir(workspaceDir string) string {
	return filepath.Join(workspaceDir, CodorDir, "evidence")
}

func lockPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, CodorDir, "sprint.lock")
}

// Lock is the per-workspace advisory file lock of spec.md §5: it is held
// for the duration of a running sprint and prevents a second controller
// instance from operating on the same workspace concurrently.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock attempts to take the workspace's advisory lock without
// blocking. It returns ErrSprintRunning if another process already holds
// it.
func AcquireLock(workspaceDir string) (*Lock, error) {
	fl := flock.New(lockPath(workspaceDir))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("workspace: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrSprintRunning
	}
	return &Lock{fl: fl}, nil
}

// AcquireLockWithTimeout retries acquisition until the timeout elapses,
// for callers willing to wait briefly for a prior sprint to release the
// lock.
func AcquireLockWithTimeout(workspaceDir string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		lock, err := AcquireLock(workspaceDir)
		if err == nil {
			return lock, nil
		}
		if err != ErrSprintRunning || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Release drops the advisory lock. The sprint abort path does not call it;
// the lock is dropped when its holder calls Release or when the holding
// process exits.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
