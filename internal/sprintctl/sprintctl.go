// Package sprintctl implements the Sprint Controller of spec.md §4.9: the
// top-level per-task state machine that coordinates the Context Manager,
// Chat Channel, Test-Plan Engine, Failure Classifier, Evidence Store, and
// Commit & Tag Emitter for every task in a sprint.
package sprintctl

import (
	"context"
	"fmt"
	"time"

	"github.com/codor-dev/codor/internal/chat"
	"github.com/codor-dev/codor/internal/commitgit"
	"github.com/codor-dev/codor/internal/contextmgr"
	"github.com/codor-dev/codor/internal/evidence"
	"github.com/codor-dev/codor/internal/executor"
	"github.com/codor-dev/codor/internal/idle"
	"github.com/codor-dev/codor/internal/store"
	"github.com/codor-dev/codor/internal/testplan"
	"github.com/codor-dev/codor/internal/types"
)

// DefaultMaxRetries is the retry bound of spec.md §4.9 and Testable
// Property 4.
const DefaultMaxRetries = 5

// EscalationDecision is the developer's response to an escalation,
// surfaced by the editor host via the {retry, skip, stop, manual-fix}
// options of spec.md §4.9.
type EscalationDecision string

const (
	DecisionRetry  EscalationDecision = "retry"
	DecisionSkip   EscalationDecision = "skip"
	DecisionAbort  EscalationDecision = "abort"
)

// EscalationResolver asks the developer (or an automated policy) how to
// proceed once a task has exhausted its retry budget or declared a
// blocker. Controller.RunSprint calls it synchronously from the goroutine
// driving the sprint.
type EscalationResolver func(task *types.Task, reason string) EscalationDecision

// Notifier receives every state transition message verbatim, per spec.md
// §7: "the chat channel receives every state transition message verbatim"
// plus editor-level notifications for escalation/sealing/flaky events.
type Notifier interface {
	Notify(event string, detail string)
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string) {}

// Config wires the Controller to its collaborators.
type Config struct {
	Store        *store.Store
	Evidence     *evidence.Store
	Channel      chat.Channel
	Commit       *commitgit.Emitter
	Policy       types.ValidationPolicy
	WorkDir      string
	MarkerPrefix string
	MaxRetries   int
	Resolve      EscalationResolver
	Notify       Notifier

	// IdleThreshold configures the Idle Monitor arming while a task is
	// running (spec.md §4.8). Zero disables it.
	IdleThreshold time.Duration
}

// Controller drives one sprint's tasks to completion, escalation, or abort.
type Controller struct {
	cfg   Config
	tasks map[string]*types.Task

	// lastBlockingOutcomes holds the previous verify() call's blocking
	// outcomes, consumed by the next feedback prompt. The state machine
	// processes one task at a time, so this is safe unguarded.
	lastBlockingOutcomes []types.ActionOutcome

	idle *idle.Monitor
}

// New constructs a Controller from cfg, applying defaults for
// MaxRetries, MarkerPrefix, and Notify when left zero.
func New(cfg Config) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MarkerPrefix == "" {
		cfg.MarkerPrefix = chat.MarkerPrefix
	}
	if cfg.Notify == nil {
		cfg.Notify = NoopNotifier{}
	}

	mon, err := idle.New(cfg.IdleThreshold)
	if err != nil {
		cfg.Notify.Notify("idle-watch-error", err.Error())
		mon, _ = idle.New(0)
	}
	if cfg.WorkDir != "" {
		if err := mon.AddDir(cfg.WorkDir); err != nil {
			cfg.Notify.Notify("idle-watch-error", err.Error())
		}
	}

	return &Controller{
		cfg:   cfg,
		tasks: map[string]*types.Task{},
		idle:  mon,
	}
}

// SprintResult summarizes the terminal outcome of one RunSprint call.
type SprintResult struct {
	Status       types.SprintStatus
	VerifiedIDs  []string
	SkippedIDs   []string
	EscalatedID  string // non-empty if the sprint paused on an unresolved escalation
}

// RunSprint walks sprintID's tasks in sequence order, gating each on its
// dependencies (spec.md §3), running the per-task state machine for each,
// and stopping on abort or an escalation the resolver does not clear.
func (c *Controller) RunSprint(ctx context.Context, sprintID string) (*SprintResult, error) {
	tasks, err := c.cfg.Store.TasksBySprint(ctx, sprintID)
	if err != nil {
		return nil, fmt.Errorf("sprintctl: load tasks: %w", err)
	}
	for _, t := range tasks {
		c.tasks[t.ID] = t
	}

	if err := c.cfg.Store.TransitionSprint(ctx, sprintID, types.SprintRunning, time.Now()); err != nil {
		return nil, fmt.Errorf("sprintctl: start sprint: %w", err)
	}

	go c.idle.Run(ctx)

	result := &SprintResult{Status: types.SprintRunning}

	for _, task := range tasks {
		if task.Status == types.TaskVerified || task.Status == types.TaskSkipped {
			continue
		}

		// Cooperative cancellation: a concurrent `codor stop-sprint` writes
		// sprint.paused directly to the store. The controller only notices
		// at this per-task suspension point, per spec.md §5's "single-
		// threaded cooperative" scheduling model.
		if current, err := c.cfg.Store.FindSprint(ctx, sprintID); err == nil && current != nil && current.Status != types.SprintRunning {
			result.Status = current.Status
			return result, nil
		}

		depStatus := c.dependencyStatusSnapshot()
		if !task.CanStart(depStatus, types.SprintRunning) {
			return nil, fmt.Errorf("sprintctl: task %s is not startable (unmet dependencies)", task.ID)
		}

		outcome, err := c.runTask(ctx, sprintID, task)
		if err != nil {
			return nil, fmt.Errorf("sprintctl: task %s: %w", task.ID, err)
		}

		switch outcome.state {
		case types.StateSealing:
			result.VerifiedIDs = append(result.VerifiedIDs, task.ID)
		case types.StateSkipping:
			result.SkippedIDs = append(result.SkippedIDs, task.ID)
		case types.StateAborting:
			c.cfg.Store.TransitionSprint(ctx, sprintID, types.SprintAborted, time.Now())
			result.Status = types.SprintAborted
			return result, nil
		case types.StateEscalated:
			c.cfg.Store.TransitionSprint(ctx, sprintID, types.SprintPaused, time.Now())
			result.Status = types.SprintPaused
			result.EscalatedID = task.ID
			return result, nil
		}
	}

	if err := c.cfg.Store.TransitionSprint(ctx, sprintID, types.SprintComplete, time.Now()); err != nil {
		return nil, fmt.Errorf("sprintctl: complete sprint: %w", err)
	}
	result.Status = types.SprintComplete
	return result, nil
}

func (c *Controller) dependencyStatusSnapshot() map[string]types.TaskStatus {
	snap := make(map[string]types.TaskStatus, len(c.tasks))
	for id, t := range c.tasks {
		snap[id] = t.Status
	}
	return snap
}

func (c *Controller) environment() executor.Environment {
	return executor.Environment{WorkDir: c.cfg.WorkDir}
}

// ensurePlan implements the idle→assembling→awaiting-plan loop of
// spec.md §4.9: if the task has no active plan, a request-plan prompt is
// sent and the schema-valid reply becomes the stored plan.
func (c *Controller) ensurePlan(ctx context.Context, task *types.Task) (*types.TestPlan, error) {
	plan, err := c.cfg.Store.ActiveTestPlan(ctx, task.ID)
	if err == nil && plan != nil {
		return plan, nil
	}

	const maxPlanAttempts = 3
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		c.cfg.Notify.Notify("awaiting-plan", task.ID)
		reply, sendErr := c.cfg.Channel.Send(ctx, requestPlanPrompt(task))
		if sendErr != nil {
			return nil, fmt.Errorf("request plan: %w", sendErr)
		}
		doc, parseErr := testplan.Parse([]byte(reply))
		if parseErr != nil {
			if attempt == maxPlanAttempts {
				return nil, fmt.Errorf("assistant could not produce a schema-valid plan after %d attempts: %w", maxPlanAttempts, parseErr)
			}
			continue
		}
		newPlan := doc.ToPlan()
		if err := c.cfg.Store.AttachTestPlan(ctx, newPlan, time.Now()); err != nil {
			return nil, fmt.Errorf("store plan: %w", err)
		}
		return newPlan, nil
	}
	return nil, fmt.Errorf("unreachable")
}

type taskOutcome struct {
	state types.ControllerState
}

// runTask drives one task through assembling → running → verifying →
// {sealing | escalated | skipping | aborting}, per spec.md §4.9.
func (c *Controller) runTask(ctx context.Context, sprintID string, task *types.Task) (*taskOutcome, error) {
	plan, err := c.ensurePlan(ctx, task)
	if err != nil {
		return nil, err
	}

	if err := c.cfg.Store.TransitionTask(ctx, task.ID, types.TaskInProgress, "", time.Now()); err != nil {
		return nil, err
	}
	task.Status = types.TaskInProgress

	prompt, err := c.assemblePrompt(ctx, sprintID, task, plan, "")
	if err != nil {
		return nil, err
	}

	// Resume from the task's persisted high-water mark rather than
	// restarting at 0: codor retry-task opens a fresh Controller against
	// a task that may already carry attempts 1..N from a prior RunSprint
	// call, and AppendAttempt's bare INSERT would collide with the
	// attempts table's (task_id, number) primary key otherwise.
	nextAttempt, err := c.cfg.Store.NextAttemptNumber(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("resume attempt count: %w", err)
	}
	attemptCount := nextAttempt - 1
	for {
		c.cfg.Notify.Notify("running", task.ID)
		reply, err := c.sendWithIdleWatch(ctx, task, prompt)
		if err != nil {
			return nil, fmt.Errorf("send prompt: %w", err)
		}

		if detail, ok := chat.BlockerDeclared(reply, c.cfg.MarkerPrefix); ok {
			return c.escalate(ctx, task, "blocker declared: "+detail)
		}
		if kind, ok := chat.DeveloperOverride(reply, c.cfg.MarkerPrefix); ok {
			switch kind {
			case "skip":
				return c.skip(ctx, task)
			case "stop":
				return c.abort(ctx, task)
			}
			// "retry" and "status" fall through to another send-cycle.
			continue
		}
		if !chat.HasCompletionMarker(reply, c.cfg.MarkerPrefix) {
			prompt = nudgePrompt(task)
			continue
		}

		attemptCount++
		vr, verr := c.verify(ctx, task, plan, attemptCount)
		if verr != nil {
			return nil, verr
		}
		if vr.Passed {
			return c.seal(ctx, sprintID, task, plan, attemptCount, vr)
		}
		if attemptCount >= c.cfg.MaxRetries {
			return c.escalate(ctx, task, fmt.Sprintf("retry limit (%d) exhausted", c.cfg.MaxRetries))
		}
		prompt = feedbackPrompt(c.lastBlockingOutcomes)
	}
}

// sendWithIdleWatch arms the Idle Monitor for the duration of one Send
// call, per spec.md §4.8's "the idle monitor arms" on entering running.
// It races the Channel against the monitor's Nudges signal: a nudge
// during an in-flight Send fires an editor-level notification (the
// transport is one conversation at a time, so the monitor cannot inject
// a second message without racing the assistant's own reply) while the
// original Send is left to complete and its reply still decides the
// running → verifying transition.
func (c *Controller) sendWithIdleWatch(ctx context.Context, task *types.Task, prompt string) (string, error) {
	c.idle.Touch()

	if c.idle.Threshold <= 0 {
		return c.cfg.Channel.Send(ctx, prompt)
	}

	type sendResult struct {
		reply string
		err   error
	}
	done := make(chan sendResult, 1)
	go func() {
		reply, err := c.cfg.Channel.Send(ctx, prompt)
		done <- sendResult{reply, err}
	}()

	for {
		select {
		case res := <-done:
			return res.reply, res.err
		case <-c.idle.Nudges:
			c.cfg.Notify.Notify("idle", task.ID)
		case err := <-c.idle.WatchErrors:
			c.cfg.Notify.Notify("idle-watch-error", err.Error())
		}
	}
}

// verifyOutcome carries everything seal needs out of one verify() call: the
// pass/fail verdict plus the evidence location, timing, and per-action
// results the commit message body (spec.md §6) must enumerate.
type verifyOutcome struct {
	Passed      bool
	Result      *testplan.ExecutionResult
	EvidenceDir string
	Duration    time.Duration
}

// lastBlockingOutcomes is set by verify for the subsequent feedback
// prompt; the state machine is single-threaded per task so this is safe.
func (c *Controller) verify(ctx context.Context, task *types.Task, plan *types.TestPlan, attemptNumber int) (*verifyOutcome, error) {
	c.cfg.Notify.Notify("verifying", task.ID)

	var handle *evidence.Handle
	evidenceDir := ""
	if c.cfg.Evidence != nil {
		h, err := c.cfg.Evidence.OpenAttempt(task.ID, attemptNumber)
		if err != nil {
			return nil, fmt.Errorf("open evidence attempt: %w", err)
		}
		handle = h
		evidenceDir = handle.Dir()
	}

	start := time.Now()
	result := testplan.Execute(ctx, plan, c.cfg.Policy, c.environment(), c.cfg.Evidence, handle)
	duration := time.Since(start)

	if handle != nil {
		if err := c.cfg.Evidence.CloseAttempt(handle, result); err != nil {
			return nil, fmt.Errorf("close evidence attempt: %w", err)
		}
	}

	attempt := testplan.BuildAttempt(task.ID, attemptNumber, plan.Version, start, result, evidenceDir)
	if err := c.cfg.Store.AppendAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}

	// Flaky-test detection (spec.md §7) must read prior attempts' history
	// before CloseAttempt writes this attempt's own outcomes alongside them.
	c.detectFlakyTests(ctx, task.ID, result.Outcomes)

	if err := c.cfg.Store.CloseAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("close attempt: %w", err)
	}

	c.lastBlockingOutcomes = blockingOutcomes(result.Outcomes)
	return &verifyOutcome{Passed: result.AllBlockingOK, Result: result, EvidenceDir: evidenceDir, Duration: duration}, nil
}

// detectFlakyTests flags an action as flaky (spec.md §7: "flaky-test
// detection fires a non-modal warning") when it now succeeds after having
// been classified test-failure at least twice across this task's attempt
// history. The failure count is read from persisted action_outcomes rather
// than in-process state, since codor retry-task resumes a task in a fresh
// Controller with no memory of earlier attempts.
func (c *Controller) detectFlakyTests(ctx context.Context, taskID string, outcomes []types.ActionOutcome) {
	const flakyThreshold = 2
	for _, o := range outcomes {
		if o.Kind != types.KindSuccess {
			continue
		}
		failures, err := c.cfg.Store.TestFailureCount(ctx, taskID, o.ActionName)
		if err != nil {
			c.cfg.Notify.Notify("flaky-flag-error", err.Error())
			continue
		}
		if failures < flakyThreshold {
			continue
		}
		flag := types.FlakyFlag{TaskID: taskID, TestName: o.ActionName, Failures: failures, PassedAt: time.Now()}
		if err := c.cfg.Store.RecordFlakyFlag(ctx, flag); err != nil {
			c.cfg.Notify.Notify("flaky-flag-error", err.Error())
			continue
		}
		c.cfg.Notify.Notify("flaky", fmt.Sprintf("%s: %q passed after %d prior failures", taskID, o.ActionName, failures))
	}
}

func (c *Controller) seal(ctx context.Context, sprintID string, task *types.Task, plan *types.TestPlan, attemptCount int, vr *verifyOutcome) (*taskOutcome, error) {
	c.cfg.Notify.Notify("sealing", task.ID)

	commitHash := ""
	if c.cfg.Commit != nil {
		spec := commitgit.CommitSpec{
			TaskID:          task.ID,
			Title:           task.Title,
			AttemptNum:      attemptCount,
			Summary:         fmt.Sprintf("test plan v%d verified in %d attempt(s)", plan.Version, attemptCount),
			Actions:         commitActionResults(vr.Result.Outcomes),
			EvidenceDir:     vr.EvidenceDir,
			DurationSeconds: vr.Duration.Seconds(),
		}
		if vr.Result.CoverageResult != nil {
			spec.CoverageMeasured = true
			spec.CoveragePercent = vr.Result.CoverageResult.Percent
		}
		res, err := c.cfg.Commit.Commit(spec)
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		if res.Committed {
			commitHash = res.CommitSHA
		}
	}

	if err := c.cfg.Store.TransitionTask(ctx, task.ID, types.TaskVerified, commitHash, time.Now()); err != nil {
		return nil, err
	}
	task.Status = types.TaskVerified
	task.CommitHash = commitHash
	c.cfg.Notify.Notify("sealed", task.ID)
	return &taskOutcome{state: types.StateSealing}, nil
}

func (c *Controller) escalate(ctx context.Context, task *types.Task, reason string) (*taskOutcome, error) {
	c.cfg.Notify.Notify("escalated", fmt.Sprintf("%s: %s", task.ID, reason))
	if c.cfg.Resolve == nil {
		return c.blockOnEscalation(ctx, task)
	}
	switch c.cfg.Resolve(task, reason) {
	case DecisionSkip:
		return c.skip(ctx, task)
	case DecisionAbort:
		return c.abort(ctx, task)
	default:
		return c.blockOnEscalation(ctx, task)
	}
}

// blockOnEscalation marks the task blocked so a later, separate process
// (the `codor status`/`skip-task`/`retry-task` CLI commands) can find the
// escalated task and record the developer's decision without needing an
// in-process EscalationResolver.
func (c *Controller) blockOnEscalation(ctx context.Context, task *types.Task) (*taskOutcome, error) {
	if err := c.cfg.Store.TransitionTask(ctx, task.ID, types.TaskBlocked, "", time.Now()); err != nil {
		return nil, err
	}
	task.Status = types.TaskBlocked
	return &taskOutcome{state: types.StateEscalated}, nil
}

func (c *Controller) skip(ctx context.Context, task *types.Task) (*taskOutcome, error) {
	if err := c.cfg.Store.TransitionTask(ctx, task.ID, types.TaskSkipped, "", time.Now()); err != nil {
		return nil, err
	}
	task.Status = types.TaskSkipped
	c.cfg.Notify.Notify("skipped", task.ID)
	return &taskOutcome{state: types.StateSkipping}, nil
}

func (c *Controller) abort(ctx context.Context, task *types.Task) (*taskOutcome, error) {
	c.cfg.Notify.Notify("aborted", task.ID)
	return &taskOutcome{state: types.StateAborting}, nil
}

// commitActionResults projects an attempt's outcomes onto the name/pass
// pairs the commit message body (spec.md §6) enumerates.
func commitActionResults(outcomes []types.ActionOutcome) []commitgit.ActionResult {
	out := make([]commitgit.ActionResult, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, commitgit.ActionResult{Name: o.ActionName, Passed: o.Kind == types.KindSuccess})
	}
	return out
}

func blockingOutcomes(outcomes []types.ActionOutcome) []types.ActionOutcome {
	var out []types.ActionOutcome
	for _, o := range outcomes {
		if o.Blocking {
			out = append(out, o)
		}
	}
	return out
}

// assemblePrompt wires the Context Manager into the prompt handed to the
// Chat Channel for the task about to run.
func (c *Controller) assemblePrompt(ctx context.Context, sprintID string, task *types.Task, plan *types.TestPlan, lastAssistantMessage string) (string, error) {
	verified, err := c.verifiedHistory(ctx, sprintID)
	if err != nil {
		return "", err
	}
	current, err := c.fullContext(ctx, task, plan)
	if err != nil {
		return "", err
	}
	assembled, err := contextmgr.Assemble(verified, current, lastAssistantMessage, c, contextmgr.DefaultCeiling)
	if err != nil {
		return "", err
	}
	return mainTaskPrompt(task, assembled.Text), nil
}

func (c *Controller) verifiedHistory(ctx context.Context, sprintID string) ([]string, error) {
	tasks, err := c.cfg.Store.TasksBySprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tasks {
		if t.Status == types.TaskVerified {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (c *Controller) fullContext(ctx context.Context, task *types.Task, plan *types.TestPlan) (contextmgr.TaskContext, error) {
	summary := ""
	if attempts, err := c.cfg.Store.AttemptsByTask(ctx, task.ID); err == nil && len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		summary = fmt.Sprintf("attempt %d: %s", last.Number, last.Status)
	}
	planDoc := ""
	if plan != nil {
		planDoc = fmt.Sprintf("setup=%d tests=%d teardown=%d", len(plan.Setup), len(plan.Tests), len(plan.Teardown))
	}
	return contextmgr.TaskContext{
		ID:                    task.ID,
		Title:                 task.Title,
		SpecExcerpt:           task.Description,
		ActivePlanDocument:    planDoc,
		LatestEvidenceSummary: summary,
	}, nil
}

// FullContext implements contextmgr.Provider by looking up a historical
// task's stored description and latest attempt.
func (c *Controller) FullContext(taskID string) (contextmgr.TaskContext, error) {
	task, ok := c.tasks[taskID]
	if !ok {
		return contextmgr.TaskContext{}, fmt.Errorf("sprintctl: unknown task %s", taskID)
	}
	plan, _ := c.cfg.Store.ActiveTestPlan(context.Background(), taskID)
	return c.fullContext(context.Background(), task, plan)
}

// OneLineSummary implements contextmgr.Provider.
func (c *Controller) OneLineSummary(taskID string) (string, error) {
	task, ok := c.tasks[taskID]
	if !ok {
		return "", fmt.Errorf("sprintctl: unknown task %s", taskID)
	}
	return fmt.Sprintf("%s: %s (%s)", task.ID, task.Title, task.Status), nil
}
