package sprintctl

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codor-dev/codor/internal/chat"
	"github.com/codor-dev/codor/internal/commitgit"
	"github.com/codor-dev/codor/internal/evidence"
	"github.com/codor-dev/codor/internal/store"
	"github.com/codor-dev/codor/internal/types"
)

// capturingNotifier records every event name Notify was called with, for
// assertions on which state transitions fired.
type capturingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *capturingNotifier) Notify(event, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *capturingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// slowChannel always waits delay before returning reply, simulating an
// assistant subprocess that produces no output for a while.
type slowChannel struct {
	delay time.Duration
	reply string
}

func (s *slowChannel) Send(ctx context.Context, prompt string) (string, error) {
	time.Sleep(s.delay)
	return s.reply, nil
}

func (s *slowChannel) History() []chat.Message { return nil }
func (s *slowChannel) Close() error            { return nil }

// fakeChannel returns a scripted reply for every Send call, falling back
// to the last reply once the script is exhausted.
type fakeChannel struct {
	replies []string
	calls   int
	history []chat.Message
}

func (f *fakeChannel) Send(ctx context.Context, prompt string) (string, error) {
	idx := f.calls
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	f.calls++
	reply := f.replies[idx]
	f.history = append(f.history, chat.Message{Role: chat.RoleAssistant, Text: reply, At: time.Now()})
	return reply, nil
}

func (f *fakeChannel) History() []chat.Message { return f.history }
func (f *fakeChannel) Close() error            { return nil }

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		full := append([]string{"-C", dir}, args...)
		cmd := exec.Command("git", full...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "codor@example.com")
	run("config", "user.name", "codor")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "init")
	return dir
}

func testController(t *testing.T, workDir string, replies []string, resolve EscalationResolver) (*Controller, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	ev, err := evidence.New(filepath.Join(t.TempDir(), "evidence"))
	if err != nil {
		t.Fatal(err)
	}

	ctl := New(Config{
		Store:      s,
		Evidence:   ev,
		Channel:    &fakeChannel{replies: replies},
		Commit:     commitgit.New(workDir, false),
		Policy:     types.DefaultValidationPolicy(),
		WorkDir:    workDir,
		MaxRetries: 3,
		Resolve:    resolve,
	})
	return ctl, s
}

func trivialPlan(taskID, testCommand string) *types.TestPlan {
	return &types.TestPlan{
		TaskID: taskID,
		Setup:  []types.Action{{ID: "setup", Name: "install", Type: types.ActionTerminalCommand, Command: "true"}},
		Tests:  []types.Action{{ID: "test", Name: "unit tests", Type: types.ActionTerminalCommand, Command: testCommand}},
		Teardown: []types.Action{
			{ID: "teardown", Name: "cleanup", Type: types.ActionTerminalCommand, Command: "true"},
		},
	}
}

// TestRunSprintHappyPath is scenario S1.
func TestRunSprintHappyPath(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	ctl, s := testController(t, workDir, []string{"@codor done", "@codor done"}, nil)

	now := time.Now()
	if _, err := s.CreateSprint(ctx, "sprint-1", now); err != nil {
		t.Fatal(err)
	}
	t1 := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "first", Sequence: 1}
	t2 := &types.Task{ID: "T002", SprintID: "sprint-1", Title: "second", Sequence: 2}
	if err := s.CreateTask(ctx, t1, now); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, t2, now); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachTestPlan(ctx, trivialPlan("T001", "true"), now); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachTestPlan(ctx, trivialPlan("T002", "true"), now); err != nil {
		t.Fatal(err)
	}

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintComplete {
		t.Errorf("status = %v, want completed", result.Status)
	}
	if len(result.VerifiedIDs) != 2 {
		t.Fatalf("verified = %v, want 2 tasks", result.VerifiedIDs)
	}

	tasks, _ := s.TasksBySprint(ctx, "sprint-1")
	for _, task := range tasks {
		if task.Status != types.TaskVerified {
			t.Errorf("task %s status = %v, want verified", task.ID, task.Status)
		}
		if task.CommitHash == "" {
			t.Errorf("task %s: expected a commit hash", task.ID)
		}
	}
}

// TestRunSprintRetryThenPass is scenario S2: the first attempt's test
// action fails, the second succeeds.
func TestRunSprintRetryThenPass(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	ctl, s := testController(t, workDir, []string{"@codor done", "@codor done"}, nil)

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	task := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "flaky once", Sequence: 1}
	if err := s.CreateTask(ctx, task, now); err != nil {
		t.Fatal(err)
	}
	failOnceThenPass := "test -f " + filepath.Join(workDir, "marker") + " || { touch " + filepath.Join(workDir, "marker") + "; exit 1; }"
	if err := s.AttachTestPlan(ctx, trivialPlan("T001", failOnceThenPass), now); err != nil {
		t.Fatal(err)
	}

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintComplete {
		t.Fatalf("status = %v, want completed", result.Status)
	}
	if len(result.VerifiedIDs) != 1 {
		t.Fatalf("verified = %v, want [T001]", result.VerifiedIDs)
	}

	attempts, err := s.AttemptsByTask(ctx, "T001")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].Status == types.KindSuccess {
		t.Error("first attempt should not be a success")
	}
	if attempts[1].Status != types.KindSuccess {
		t.Error("second attempt should be a success")
	}
}

// TestRunSprintEscalatesAfterRetryLimit is scenario S3.
func TestRunSprintEscalatesAfterRetryLimit(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	replies := []string{"@codor done", "@codor done", "@codor done"}
	resolved := false
	ctl, s := testController(t, workDir, replies, func(task *types.Task, reason string) EscalationDecision {
		resolved = true
		return ""
	})

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	task := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "always fails", Sequence: 1}
	if err := s.CreateTask(ctx, task, now); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachTestPlan(ctx, trivialPlan("T001", "exit 1"), now); err != nil {
		t.Fatal(err)
	}

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintPaused {
		t.Fatalf("status = %v, want paused", result.Status)
	}
	if result.EscalatedID != "T001" {
		t.Errorf("escalated id = %q, want T001", result.EscalatedID)
	}
	if !resolved {
		t.Error("expected the escalation resolver to be consulted")
	}

	attempts, err := s.AttemptsByTask(ctx, "T001")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3 (bounded by MaxRetries)", len(attempts))
	}

	tasks, _ := s.TasksBySprint(ctx, "sprint-1")
	if tasks[0].Status == types.TaskVerified {
		t.Error("task must not be verified after escalation")
	}
}

// TestRunSprintBlockerDeclarationEscalatesImmediately covers spec.md
// §4.9's "blocker declaration arrives at any moment in running" rule.
func TestRunSprintBlockerDeclarationEscalatesImmediately(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	ctl, s := testController(t, workDir, []string{"@codor blocker: missing credentials"}, nil)

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	task := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "blocked", Sequence: 1}
	s.CreateTask(ctx, task, now)
	s.AttachTestPlan(ctx, trivialPlan("T001", "true"), now)

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintPaused || result.EscalatedID != "T001" {
		t.Errorf("got %+v, want paused with T001 escalated", result)
	}

	attempts, _ := s.AttemptsByTask(ctx, "T001")
	if len(attempts) != 0 {
		t.Errorf("got %d attempts, want 0 (blocker short-circuits before verification)", len(attempts))
	}
}

func TestRunSprintSkipDecisionAdvancesSprint(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	replies := []string{"@codor done", "@codor done", "@codor done", "@codor done"}
	ctl, s := testController(t, workDir, replies, func(task *types.Task, reason string) EscalationDecision {
		return DecisionSkip
	})

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	t1 := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "always fails", Sequence: 1}
	t2 := &types.Task{ID: "T002", SprintID: "sprint-1", Title: "passes", Sequence: 2}
	s.CreateTask(ctx, t1, now)
	s.CreateTask(ctx, t2, now)
	s.AttachTestPlan(ctx, trivialPlan("T001", "exit 1"), now)
	s.AttachTestPlan(ctx, trivialPlan("T002", "true"), now)

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintComplete {
		t.Fatalf("status = %v, want completed", result.Status)
	}
	if len(result.SkippedIDs) != 1 || result.SkippedIDs[0] != "T001" {
		t.Errorf("skipped = %v, want [T001]", result.SkippedIDs)
	}
	if len(result.VerifiedIDs) != 1 || result.VerifiedIDs[0] != "T002" {
		t.Errorf("verified = %v, want [T002]", result.VerifiedIDs)
	}
}

// TestRunSprintRetryTaskResumesAttemptNumbering covers codor retry-task:
// a second, independent Controller (as a fresh CLI process would build)
// resuming a task that already escalated must not restart attempt
// numbering at 1, or AppendAttempt's bare INSERT collides with the
// attempts table's (task_id, number) primary key.
func TestRunSprintRetryTaskResumesAttemptNumbering(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)
	ctl1, s := testController(t, workDir, []string{"@codor done", "@codor done", "@codor done"}, nil)

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	task := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "always fails", Sequence: 1}
	s.CreateTask(ctx, task, now)
	s.AttachTestPlan(ctx, trivialPlan("T001", "exit 1"), now)

	result, err := ctl1.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintPaused || result.EscalatedID != "T001" {
		t.Fatalf("got %+v, want paused escalation on T001", result)
	}

	before, err := s.AttemptsByTask(ctx, "T001")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 3 {
		t.Fatalf("got %d attempts before retry, want 3", len(before))
	}

	// codor retry-task opens a fresh Controller against the same store.
	if err := s.AttachTestPlan(ctx, trivialPlan("T001", "true"), now); err != nil {
		t.Fatal(err)
	}
	ctl2 := New(Config{
		Store:      s,
		Evidence:   ctl1.cfg.Evidence,
		Channel:    &fakeChannel{replies: []string{"@codor done"}},
		Commit:     commitgit.New(workDir, false),
		Policy:     types.DefaultValidationPolicy(),
		WorkDir:    workDir,
		MaxRetries: 3,
	})

	result, err = ctl2.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintComplete {
		t.Fatalf("status = %v, want completed after retry", result.Status)
	}

	attempts, err := s.AttemptsByTask(ctx, "T001")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 4 {
		t.Fatalf("got %d attempts after retry, want 4 (no primary-key collision)", len(attempts))
	}
	if attempts[3].Number != 4 {
		t.Errorf("retry attempt number = %d, want 4", attempts[3].Number)
	}
	if attempts[3].Status != types.KindSuccess {
		t.Error("retry attempt should succeed")
	}
}

// TestRunSprintIdleNudgeFiresDuringSlowSend covers the Idle Monitor wiring
// of spec.md §4.8: arming on entering running and firing a nudge while a
// single Send call is still in flight must not corrupt or delay that Send.
func TestRunSprintIdleNudgeFiresDuringSlowSend(t *testing.T) {
	ctx := context.Background()
	workDir := initGitRepo(t)

	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ev, err := evidence.New(filepath.Join(t.TempDir(), "evidence"))
	if err != nil {
		t.Fatal(err)
	}

	notifier := &capturingNotifier{}
	ctl := New(Config{
		Store:         s,
		Evidence:      ev,
		Channel:       &slowChannel{delay: 80 * time.Millisecond, reply: "@codor done"},
		Commit:        commitgit.New(workDir, false),
		Policy:        types.DefaultValidationPolicy(),
		WorkDir:       workDir,
		MaxRetries:    3,
		IdleThreshold: 20 * time.Millisecond,
		Notify:        notifier,
	})

	now := time.Now()
	s.CreateSprint(ctx, "sprint-1", now)
	task := &types.Task{ID: "T001", SprintID: "sprint-1", Title: "slow reply", Sequence: 1}
	s.CreateTask(ctx, task, now)
	s.AttachTestPlan(ctx, trivialPlan("T001", "true"), now)

	result, err := ctl.RunSprint(ctx, "sprint-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.SprintComplete {
		t.Fatalf("status = %v, want completed", result.Status)
	}
	if !notifier.has("idle") {
		t.Error("expected an idle nudge notification while the slow send was in flight")
	}
}
