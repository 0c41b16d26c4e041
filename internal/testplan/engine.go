package testplan

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/codor-dev/codor/internal/classifier"
	"github.com/codor-dev/codor/internal/evidence"
	"github.com/codor-dev/codor/internal/executor"
	"github.com/codor-dev/codor/internal/types"
)

// ExecutionResult is the outcome of running one attempt of a task's active
// test plan: the ordered outcomes and whether the attempt as a whole
// advances the task.
type ExecutionResult struct {
	Outcomes       []types.ActionOutcome
	SetupAborted   bool
	TestsHalted    bool
	AllBlockingOK  bool // true iff no blocking classification occurred anywhere
	CoverageResult *CoverageResult
}

// CoverageResult records the parsed coverage percentage and whether it met
// the plan's declared threshold.
type CoverageResult struct {
	Percent float64
	Met     bool
}

var coveragePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// Execute runs plan's setup, tests, and teardown actions in order against
// workDir, recording each outcome through the Failure Classifier and
// persisting raw streams via the Evidence Store handle h.
//
// Order, per spec.md §4.4:
//  1. every setup action in declared order; a blocking failure aborts
//     remaining setup and skips tests entirely.
//  2. every test action in order with fail-fast: the first blocking
//     failure halts the test block.
//  3. every teardown action in order regardless of earlier outcome;
//     teardown failures are recorded but never change pass/fail.
//  4. if no blocking failure occurred and coverage is enabled, read a
//     coverage percentage from the outputs already recorded (no separate
//     coverage action is run) and compare it against the declared
//     threshold; falling short appends a blocking validation-failure
//     outcome.
func Execute(ctx context.Context, plan *types.TestPlan, policy types.ValidationPolicy, env executor.Environment, store *evidence.Store, h *evidence.Handle) *ExecutionResult {
	result := &ExecutionResult{AllBlockingOK: true}

	for _, action := range plan.Setup {
		oc := runOne(ctx, action, true, false, policy, env, store, h)
		result.Outcomes = append(result.Outcomes, oc)
		if oc.Blocking {
			result.SetupAborted = true
			result.AllBlockingOK = false
			break
		}
	}

	if !result.SetupAborted {
		for _, action := range plan.Tests {
			oc := runOne(ctx, action, false, true, policy, env, store, h)
			result.Outcomes = append(result.Outcomes, oc)
			if oc.Blocking {
				result.TestsHalted = true
				result.AllBlockingOK = false
				break
			}
		}
	} else {
		result.TestsHalted = true
	}

	for _, action := range plan.Teardown {
		oc := runOne(ctx, action, false, false, policy, env, store, h)
		// Teardown failures never flip AllBlockingOK; they are recorded as a
		// warning only, per spec.md §4.4.
		oc.Blocking = false
		result.Outcomes = append(result.Outcomes, oc)
	}

	if result.AllBlockingOK && plan.Coverage != nil && plan.Coverage.Enabled {
		result.CoverageResult = evaluateCoverage(plan.Coverage, result.Outcomes)
		if result.CoverageResult != nil && !result.CoverageResult.Met {
			result.AllBlockingOK = false
			result.Outcomes = append(result.Outcomes, types.ActionOutcome{
				ActionID:   "coverage",
				ActionName: "coverage",
				Kind:       types.KindValidationFailure,
				Blocking:   true,
				Severity:   types.SeverityHigh,
				Reason: "coverage " + strconv.FormatFloat(result.CoverageResult.Percent, 'f', -1, 64) +
					"% is below the threshold of " + strconv.Itoa(plan.Coverage.Threshold) + "%",
			})
		}
	}

	return result
}

func runOne(ctx context.Context, action types.Action, isPrereq, isTest bool, policy types.ValidationPolicy, env executor.Environment, store *evidence.Store, h *evidence.Handle) types.ActionOutcome {
	out := executor.Execute(ctx, action, env)

	raw := classifier.RawOutcome{
		ExitCode:       out.ExitCode,
		HTTPStatus:     out.HTTPStatus,
		Stdout:         out.Stdout,
		Stderr:         out.Stderr,
		Killed:         out.Killed,
		CouldNotRun:    out.CouldNotRun,
		IsPrerequisite: isPrereq,
		IsTest:         isTest,
		ParsedReport:   parseTestReport(out.Stdout + out.Stderr),
	}
	class := classifier.Classify(action, raw, policy)

	oc := types.ActionOutcome{
		ActionID:   action.ID,
		ActionName: action.Name,
		Kind:       class.Kind,
		Blocking:   class.Blocking,
		Severity:   class.Severity,
		Reason:     class.Reason,
		ExitCode:   out.ExitCode,
		HTTPStatus: out.HTTPStatus,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		Killed:     out.Killed,
		Start:      out.Start,
		End:        out.End,
		Duration:   out.Duration,
	}
	if out.Err != nil {
		oc.Error = out.Err.Error()
	}

	if store != nil && h != nil {
		_, _ = store.WriteArtifact(h, action.ID+"-stdout.log", []byte(out.Stdout))
		_, _ = store.WriteArtifact(h, action.ID+"-stderr.log", []byte(out.Stderr))
	}

	return oc
}

var testFailurePattern = regexp.MustCompile(`(?i)(\d+)\s+failed,?\s*(\d+)?\s*passed|FAIL:?\s+(\S+)`)

// parseTestReport extracts a minimal classifier.TestReport from free-form
// test-runner output, e.g. "1 failed, 0 passed" or "FAIL: test_login".
func parseTestReport(output string) *classifier.TestReport {
	m := testFailurePattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	report := &classifier.TestReport{}
	if m[1] != "" {
		report.Failed, _ = strconv.Atoi(m[1])
	}
	if m[2] != "" {
		report.Passed, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		report.Name = m[3]
	}
	if report.Failed == 0 && report.Name == "" {
		return nil
	}
	return report
}

// evaluateCoverage scans the recorded outcomes from last to first and takes
// the first "N%" figure found in an outcome's stdout, whatever its action
// id, as the coverage percentage; it compares that to the plan's threshold.
// It returns nil when no outcome's stdout holds a percentage. Execute turns
// a shortfall into a blocking validation-failure outcome.
func evaluateCoverage(spec *types.CoverageSpec, outcomes []types.ActionOutcome) *CoverageResult {
	for i := len(outcomes) - 1; i >= 0; i-- {
		m := coveragePattern.FindStringSubmatch(outcomes[i].Stdout)
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return &CoverageResult{Percent: pct, Met: pct >= float64(spec.Threshold)}
	}
	return nil
}

// BuildAttempt assembles a types.Attempt from an ExecutionResult for
// persistence by the Task Store.
func BuildAttempt(taskID string, number, planVersion int, start time.Time, result *ExecutionResult, evidenceDir string) *types.Attempt {
	status := types.KindSuccess
	for _, oc := range result.Outcomes {
		if oc.Blocking {
			status = oc.Kind
			break
		}
	}
	return &types.Attempt{
		TaskID:      taskID,
		Number:      number,
		PlanVersion: planVersion,
		Start:       start,
		End:         time.Now(),
		Status:      status,
		Outcomes:    result.Outcomes,
		EvidenceDir: evidenceDir,
		Closed:      true,
	}
}
