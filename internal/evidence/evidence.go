// Package evidence implements the Evidence Store of spec.md §4.3: content
// addressable artifacts under <evidence-root>/<task-id>/attempt-<n>/, with
// authenticity headers and immutability once an attempt is closed.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codor-dev/codor/internal/types"
)

// ErrAttemptClosed is returned when writeArtifact or closeAttempt is
// called against an attempt that has already been closed.
var ErrAttemptClosed = fmt.Errorf("evidence: attempt is closed")

// ErrAttemptOpen is returned by openAttempt when the target attempt
// directory already exists (re-opening a closed attempt is an error).
var ErrAttemptOpen = fmt.Errorf("evidence: attempt already exists")

const (
	producerName    = "codor-evidence-store"
	producerVersion = "1.0"
)

// producerID is a stable per-process identity stamped on every
// authenticity header produced by this process, grounded on the
// correlation-id pattern used for request/producer identity in the
// retrieved pack (github.com/google/uuid).
var producerID = uuid.New().String()

// Handle represents an open attempt directory. It is not safe for
// concurrent use by multiple goroutines; the sprint controller is
// single-writer per spec.md §5.
type Handle struct {
	mu        sync.Mutex
	dir       string
	taskID    string
	attemptNo int
	closed    bool
}

// Store roots all attempts under a single evidence directory, as required
// by spec.md §6 ("<workspace>/.codor/evidence/...").
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating it if necessary.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create root: %w", err)
	}
	return &Store{Root: root}, nil
}

func (s *Store) attemptDir(taskID string, attemptNumber int) string {
	return filepath.Join(s.Root, taskID, fmt.Sprintf("attempt-%d", attemptNumber))
}

// OpenAttempt creates a fresh attempt directory. Re-opening an existing
// (and therefore presumed closed) attempt directory is an error.
func (s *Store) OpenAttempt(taskID string, attemptNumber int) (*Handle, error) {
	dir := s.attemptDir(taskID, attemptNumber)
	if _, err := os.Stat(dir); err == nil {
		return nil, ErrAttemptOpen
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create attempt dir: %w", err)
	}
	return &Handle{dir: dir, taskID: taskID, attemptNo: attemptNumber}, nil
}

// WriteArtifact persists content under the attempt directory, wrapped with
// an authenticity header recorded alongside it in a sidecar `.meta.json`
// file. Fails if the attempt has already been closed.
func (s *Store) WriteArtifact(h *Handle, name string, content []byte) (types.EvidenceArtifact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return types.EvidenceArtifact{}, ErrAttemptClosed
	}

	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return types.EvidenceArtifact{}, fmt.Errorf("evidence: write artifact %s: %w", name, err)
	}

	sum := sha256.Sum256(content)
	auth := types.Authenticity{
		Producer:        producerName,
		ProducerVersion: producerVersion,
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		ProcessID:       os.Getpid(),
		Timestamp:       time.Now().UTC(),
		Digest:          hex.EncodeToString(sum[:]),
	}
	auth.ProducerVersion = producerVersion + "+" + producerID[:8]

	meta, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return types.EvidenceArtifact{}, fmt.Errorf("evidence: marshal authenticity header: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", meta, 0o644); err != nil {
		return types.EvidenceArtifact{}, fmt.Errorf("evidence: write authenticity header: %w", err)
	}

	return types.EvidenceArtifact{
		Path:         path,
		Kind:         name,
		Authenticity: auth,
	}, nil
}

// CloseAttempt writes the machine-readable attempt summary and marks the
// handle immutable. Any subsequent WriteArtifact call fails.
func (s *Store) CloseAttempt(h *Handle, summary any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAttemptClosed
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, "attempt-summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("evidence: write attempt summary: %w", err)
	}

	h.closed = true
	return nil
}

// VerifyDigest recomputes the sha256 of an artifact on disk and compares it
// against the digest recorded in its authenticity header, for Testable
// Property 2 ("digests in authenticity headers match artifact contents
// bit-for-bit").
func VerifyDigest(artifactPath string) (bool, error) {
	content, err := os.ReadFile(artifactPath)
	if err != nil {
		return false, err
	}
	metaRaw, err := os.ReadFile(artifactPath + ".meta.json")
	if err != nil {
		return false, err
	}
	var auth types.Authenticity
	if err := json.Unmarshal(metaRaw, &auth); err != nil {
		return false, err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]) == auth.Digest, nil
}

// Dir returns the on-disk directory for the given handle.
func (h *Handle) Dir() string { return h.dir }
