// Package classifier implements the Failure Classifier of spec.md §4.2: a
// pure function mapping an Action, its raw Outcome, and the configured
// Validation Policy onto one of seven mutually-exclusive result kinds.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codor-dev/codor/internal/types"
)

// RawOutcome is the executor-produced, pre-classification result of
// running one Action. It is kept separate from types.ActionOutcome so the
// executor and classifier stay decoupled, the way the teacher keeps
// executor.RunResult distinct from the classification recorded afterward.
type RawOutcome struct {
	ExitCode       int
	HTTPStatus     int
	Stdout         string
	Stderr         string
	Killed         bool // timed out and force-killed
	CouldNotRun    bool // binary missing, connection refused, etc.
	IsPrerequisite bool // this action came from the setup list
	IsTest         bool // this action came from the tests list
	TDDRedPhase    bool // task's completion criteria mark it TDD red-phase
	ParsedReport   *TestReport
}

// TestReport is the minimal parsed shape of a test runner's summary output.
type TestReport struct {
	Failed int
	Passed int
	Name   string // name of the (first) failing test, when known
}

// Classification is the result of classify(): {kind, blocking, severity,
// reason} per spec.md §4.2.
type Classification struct {
	Kind     types.ResultKind
	Blocking bool
	Severity types.Severity
	Reason   string
}

var validationToolSignature = regexp.MustCompile(`(?i)\b(eslint|tslint|golangci-lint|ruff|pylint|flake8|tsc|mypy|prettier|gofmt|rustfmt|clippy|rubocop|checkstyle)\b`)

// DetectValidationTool inspects a command string for a known lint/type/format
// tool signature and returns its name, or "" if this is not a validation-tool
// action.
func DetectValidationTool(command string) string {
	m := validationToolSignature.FindString(command)
	return strings.ToLower(m)
}

// toolClass maps a detected tool name to the ValidationPolicy section that
// governs it.
func toolClass(tool string) string {
	switch tool {
	case "tsc", "mypy":
		return "typeChecking"
	case "prettier", "gofmt", "rustfmt":
		return "formatting" // no distinct formatting policy section exists beyond
		// linting/typeChecking/compilation, so formatter tools read the linting
		// section's per-tool overrides and otherwise default to warn-only.
	default:
		return "linting"
	}
}

var diagnosticCountPattern = regexp.MustCompile(`(?i)(\d+)\s+(errors?|warnings?)`)

// parseDiagnosticCounts extracts error/warning counts from free-form tool
// output such as "3 errors, 8 warnings found".
func parseDiagnosticCounts(output string) (errs, warns int) {
	for _, m := range diagnosticCountPattern.FindAllStringSubmatch(output, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(m[2]), "error") {
			errs += n
		} else {
			warns += n
		}
	}
	return errs, warns
}

// Classify implements spec.md §4.2's seven ordered rules. First match wins.
func Classify(action types.Action, out RawOutcome, policy types.ValidationPolicy) Classification {
	// Rule 1: prerequisite-failure.
	if out.CouldNotRun && out.IsPrerequisite {
		return Classification{Kind: types.KindPrerequisiteFailure, Blocking: true, Severity: types.SeverityHigh,
			Reason: "setup action failed to run"}
	}

	// Rule 2: timeout.
	if out.Killed {
		return Classification{Kind: types.KindTimeout, Blocking: true, Severity: types.SeverityHigh,
			Reason: "action exceeded its configured timeout budget"}
	}

	// Rule 3: execution-error (could not run at all).
	if out.CouldNotRun {
		return Classification{Kind: types.KindExecutionError, Blocking: true, Severity: types.SeverityHigh,
			Reason: "action could not be executed"}
	}

	// Rule 4: validation-tool actions.
	if action.Type == types.ActionTerminalCommand {
		if tool := DetectValidationTool(action.Command); tool != "" {
			return classifyValidationTool(tool, out, policy)
		}
	}

	// Rule 5: declared test actions.
	if out.IsTest && out.ExitCode != 0 {
		if out.ParsedReport != nil {
			blocking := !out.TDDRedPhase
			sev := types.SeverityHigh
			if !blocking {
				sev = types.SeverityLow
			}
			reason := "test assertions failed"
			if out.ParsedReport.Name != "" {
				reason = "test failed: " + out.ParsedReport.Name
			}
			return Classification{Kind: types.KindTestFailure, Blocking: blocking, Severity: sev, Reason: reason}
		}
	}

	// Rule 6: otherwise non-zero exit.
	if out.ExitCode != 0 || (action.Type == types.ActionHTTPRequest && out.HTTPStatus >= 400) {
		return Classification{Kind: types.KindExecutionError, Blocking: true, Severity: types.SeverityHigh,
			Reason: "non-zero exit with no parseable test report"}
	}

	// Rule 7: success.
	return Classification{Kind: types.KindSuccess, Blocking: false, Severity: types.SeverityNone, Reason: ""}
}

// classifyValidationTool implements the policy table of spec.md §4.2.
func classifyValidationTool(tool string, out RawOutcome, policy types.ValidationPolicy) Classification {
	errs, warns := parseDiagnosticCounts(out.Stdout + "\n" + out.Stderr)

	class := toolClass(tool)
	var cp types.ToolClassPolicy
	switch class {
	case "typeChecking":
		cp = policy.TypeChecking
	case "linting", "formatting":
		cp = policy.Linting
	default:
		cp = policy.Linting
	}

	strategy := cp.EffectiveStrategy(tool)
	if class == "formatting" {
		if o, ok := cp.Tools[tool]; !ok || o.Strategy == "" {
			strategy = types.StrategyWarnOnly
		}
	}
	maxWarnings := cp.MaxWarnings(tool)
	overThreshold := maxWarnings > 0 && warns > maxWarnings

	kind := types.KindValidationFailure
	switch strategy {
	case types.StrategyBlockAlways:
		switch {
		case errs > 0:
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityCritical, Reason: diagReason(tool, errs, warns)}
		case warns > 0 && overThreshold:
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityHigh, Reason: diagReason(tool, errs, warns)}
		case warns > 0:
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityMedium, Reason: diagReason(tool, errs, warns)}
		}
	case types.StrategyBlockOnErrors:
		switch {
		case errs > 0:
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityHigh, Reason: diagReason(tool, errs, warns)}
		case warns > 0 && overThreshold:
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityHigh, Reason: diagReason(tool, errs, warns)}
		case warns > 0:
			return Classification{Kind: kind, Blocking: false, Severity: types.SeverityMedium, Reason: diagReason(tool, errs, warns)}
		}
	case types.StrategyBlockOnErrorsAndWarnings:
		if errs > 0 || warns > 0 {
			return Classification{Kind: kind, Blocking: true, Severity: types.SeverityHigh, Reason: diagReason(tool, errs, warns)}
		}
	case types.StrategyWarnOnly:
		if errs > 0 || warns > 0 {
			return Classification{Kind: kind, Blocking: false, Severity: types.SeverityLow, Reason: diagReason(tool, errs, warns)}
		}
	case types.StrategyNever:
		if errs > 0 || warns > 0 {
			return Classification{Kind: kind, Blocking: false, Severity: types.SeverityNone, Reason: diagReason(tool, errs, warns)}
		}
	}

	if out.ExitCode != 0 {
		return Classification{Kind: types.KindExecutionError, Blocking: true, Severity: types.SeverityHigh,
			Reason: tool + " exited non-zero with no parsed diagnostics"}
	}
	return Classification{Kind: types.KindSuccess, Blocking: false, Severity: types.SeverityNone}
}

func diagReason(tool string, errs, warns int) string {
	return tool + ": " + strconv.Itoa(errs) + " errors, " + strconv.Itoa(warns) + " warnings"
}
