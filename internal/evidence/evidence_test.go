package evidence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codor-dev/codor/internal/types"
)

func TestOpenWriteCloseLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	h, err := store.OpenAttempt("T001", 1)
	if err != nil {
		t.Fatal(err)
	}

	artifact, err := store.WriteArtifact(h, "a1-stdout.txt", []byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Authenticity.Digest == "" {
		t.Error("expected non-empty digest")
	}

	ok, err := VerifyDigest(artifact.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("digest mismatch for freshly written artifact")
	}

	if err := store.CloseAttempt(h, map[string]string{"status": "success"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(h.Dir(), "attempt-summary.json")); err != nil {
		t.Error("expected attempt-summary.json to exist after close")
	}
}

// TestImmutableSealedAttempts is Testable Property 2: any write to a
// closed attempt fails with a well-defined error.
func TestImmutableSealedAttempts(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	h, _ := store.OpenAttempt("T001", 1)

	if err := store.CloseAttempt(h, map[string]string{}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.WriteArtifact(h, "late.txt", []byte("too late")); err != ErrAttemptClosed {
		t.Errorf("WriteArtifact after close = %v, want ErrAttemptClosed", err)
	}
	if err := store.CloseAttempt(h, map[string]string{}); err != ErrAttemptClosed {
		t.Errorf("double CloseAttempt = %v, want ErrAttemptClosed", err)
	}
}

func TestReopeningAttemptIsError(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	if _, err := store.OpenAttempt("T001", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := store.OpenAttempt("T001", 1); err != ErrAttemptOpen {
		t.Errorf("re-opening attempt = %v, want ErrAttemptOpen", err)
	}
}

func TestSweepNeverExpireIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	h, _ := store.OpenAttempt("T001", 1)
	store.WriteArtifact(h, "a.txt", []byte("x"))
	store.CloseAttempt(h, map[string]string{})

	cfg := DefaultRetentionConfig()
	if err := store.Sweep(cfg, time.Now().Add(365*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.Dir()); err != nil {
		t.Error("never-expire policy should not touch attempt directories")
	}
}

func TestSweepDeleteAfterDaysIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	h, _ := store.OpenAttempt("T001", 1)
	store.WriteArtifact(h, "a.txt", []byte("x"))
	store.CloseAttempt(h, map[string]string{})

	cfg := RetentionConfig{Policy: types.RetentionDeleteAfterDays, DeleteAfterDays: 1}
	future := time.Now().Add(48 * time.Hour)

	if err := store.Sweep(cfg, future); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.Dir()); !os.IsNotExist(err) {
		t.Error("expected attempt directory to be removed")
	}

	// second sweep over the same (now-absent) tree must not error.
	if err := store.Sweep(cfg, future); err != nil {
		t.Errorf("second sweep should be idempotent, got %v", err)
	}
}
