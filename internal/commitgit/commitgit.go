// Package commitgit implements the Commit & Tag Emitter of spec.md §6:
// one atomic git commit and tag per verified task, using the porcelain
// plumbing the teacher's executor.CommitAndPushRepos uses, narrowed to a
// single workspace repo and the task-structured commit message format.
package commitgit

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Emitter stages, commits, and tags a task's changes in repoDir.
type Emitter struct {
	RepoDir string
	Push    bool
}

// New creates an Emitter rooted at repoDir.
func New(repoDir string, push bool) *Emitter {
	return &Emitter{RepoDir: repoDir, Push: push}
}

// CommitSpec carries the fields the commit message template needs.
type CommitSpec struct {
	TaskID     string
	Title      string
	AttemptNum int
	Summary    string // short body line, e.g. what the test plan verified

	// Actions, CoveragePercent/CoverageMeasured, EvidenceDir, and
	// DurationSeconds populate the structured body spec.md §6 requires:
	// action names with pass markers, the coverage percentage if measured,
	// the evidence root path, and the attempt duration in seconds.
	Actions          []ActionResult
	CoverageMeasured bool
	CoveragePercent  float64
	EvidenceDir      string
	DurationSeconds  float64
}

// ActionResult is one test-plan action's name and pass/fail verdict, as
// enumerated in the commit body.
type ActionResult struct {
	Name   string
	Passed bool
}

// Result reports what actually happened, since a clean worktree with
// nothing to commit is a legitimate no-op rather than an error.
type Result struct {
	Committed bool
	CommitSHA string
	Tag       string
}

// Commit stages all changes, commits with the conventional-commit message
// format of spec.md §6 (`feat(<task-id>): <title>`, a structured body, and
// a `Co-authored-by: CODOR <automation>` trailer), and tags the commit
// `task/<task-id>`. A clean worktree is reported as Result{Committed:
// false} rather than an error.
func (e *Emitter) Commit(spec CommitSpec) (*Result, error) {
	dirty, err := e.hasChanges()
	if err != nil {
		return nil, err
	}
	if !dirty {
		return &Result{Committed: false}, nil
	}

	if err := e.run("add", "-A"); err != nil {
		return nil, fmt.Errorf("commitgit: stage changes: %w", err)
	}

	message := BuildMessage(spec)
	if err := e.run("commit", "-m", message); err != nil {
		return nil, fmt.Errorf("commitgit: commit: %w", err)
	}

	sha, err := e.head()
	if err != nil {
		return nil, fmt.Errorf("commitgit: resolve HEAD: %w", err)
	}

	tag := TagName(spec.TaskID)
	if err := e.run("tag", "-f", tag); err != nil {
		return nil, fmt.Errorf("commitgit: tag %s: %w", tag, err)
	}

	if e.Push {
		if err := e.run("push"); err != nil {
			return nil, fmt.Errorf("commitgit: push: %w", err)
		}
		if err := e.run("push", "origin", tag); err != nil {
			return nil, fmt.Errorf("commitgit: push tag %s: %w", tag, err)
		}
	}

	return &Result{Committed: true, CommitSHA: sha, Tag: tag}, nil
}

// TagName is the tag applied to every verified task's commit.
func TagName(taskID string) string {
	return "task/" + taskID
}

// BuildMessage renders the conventional-commit message for spec: subject,
// blank line, then the structured body of spec.md §6 — action names with
// pass markers, coverage percentage if measured, the evidence root path,
// the attempt count, and the duration in seconds — and the co-author
// trailer.
func BuildMessage(spec CommitSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "feat(%s): %s\n\n", spec.TaskID, spec.Title)
	if spec.Summary != "" {
		b.WriteString(spec.Summary)
		b.WriteString("\n\n")
	}
	for _, a := range spec.Actions {
		marker := "[pass]"
		if !a.Passed {
			marker = "[fail]"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, a.Name)
	}
	if len(spec.Actions) > 0 {
		b.WriteString("\n")
	}
	if spec.CoverageMeasured {
		fmt.Fprintf(&b, "Coverage: %.1f%%\n", spec.CoveragePercent)
	}
	if spec.EvidenceDir != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", spec.EvidenceDir)
	}
	fmt.Fprintf(&b, "Attempt: %d\n", spec.AttemptNum)
	fmt.Fprintf(&b, "Duration: %.0fs\n", spec.DurationSeconds)
	b.WriteString("Co-authored-by: CODOR <automation>\n")
	return b.String()
}

func (e *Emitter) hasChanges() (bool, error) {
	var out bytes.Buffer
	cmd := exec.Command("git", "-C", e.RepoDir, "status", "--porcelain")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("commitgit: git status: %w", err)
	}
	return out.Len() > 0, nil
}

func (e *Emitter) head() (string, error) {
	var out bytes.Buffer
	cmd := exec.Command("git", "-C", e.RepoDir, "rev-parse", "HEAD")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func (e *Emitter) run(args ...string) error {
	full := append([]string{"-C", e.RepoDir}, args...)
	cmd := exec.Command("git", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
