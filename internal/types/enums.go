package types

// SprintStatus is the lifecycle status of a Sprint.
type SprintStatus string

const (
	SprintPlanning SprintStatus = "planning"
	SprintRunning  SprintStatus = "running"
	SprintPaused   SprintStatus = "paused"
	SprintComplete SprintStatus = "completed"
	SprintAborted  SprintStatus = "aborted"
)

// IsValid reports whether s is one of the known sprint statuses.
func (s SprintStatus) IsValid() bool {
	switch s {
	case SprintPlanning, SprintRunning, SprintPaused, SprintComplete, SprintAborted:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskVerified   TaskStatus = "verified"
	TaskSkipped    TaskStatus = "skipped"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// IsValid reports whether s is one of the known task statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskVerified, TaskSkipped, TaskFailed, TaskBlocked:
		return true
	}
	return false
}

// ActionType is the closed set of action kinds a test plan may contain.
type ActionType string

const (
	ActionTerminalCommand ActionType = "terminal-command"
	ActionFileCheck       ActionType = "file-check"
	ActionHTTPRequest     ActionType = "http-request"
)

// IsValid reports whether t is one of the three known action types.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionTerminalCommand, ActionFileCheck, ActionHTTPRequest:
		return true
	}
	return false
}

// ResultKind is the closed set of seven mutually-exclusive classification
// outcomes produced by the Failure Classifier.
type ResultKind string

const (
	KindSuccess              ResultKind = "success"
	KindTestFailure          ResultKind = "test-failure"
	KindExecutionError       ResultKind = "execution-error"
	KindValidationFailure    ResultKind = "validation-failure"
	KindTimeout              ResultKind = "timeout"
	KindPrerequisiteFailure  ResultKind = "prerequisite-failure"
	KindSpecificationError   ResultKind = "specification-error"
)

// CountsAsRetry reports whether this kind, when blocking, consumes a unit of
// the task's retry budget. specification-error never counts per spec.md §7.
func (k ResultKind) CountsAsRetry() bool {
	return k != KindSpecificationError && k != KindSuccess
}

// Severity is a coarse ranking used alongside blocking/non-blocking to
// describe the policy table in spec.md §4.2.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationStrategy is the closed set of policy strategies for a named
// validation tool (linter, type checker, formatter).
type ValidationStrategy string

const (
	StrategyBlockAlways               ValidationStrategy = "block-always"
	StrategyBlockOnErrors             ValidationStrategy = "block-on-errors"
	StrategyBlockOnErrorsAndWarnings  ValidationStrategy = "block-on-errors-and-warnings"
	StrategyWarnOnly                  ValidationStrategy = "warn-only"
	StrategyNever                     ValidationStrategy = "never"
)

// IsValid reports whether s is a known validation strategy.
func (s ValidationStrategy) IsValid() bool {
	switch s {
	case StrategyBlockAlways, StrategyBlockOnErrors, StrategyBlockOnErrorsAndWarnings, StrategyWarnOnly, StrategyNever:
		return true
	}
	return false
}

// RetentionPolicy controls how the Evidence Store sweeper treats closed
// attempt directories over time.
type RetentionPolicy string

const (
	RetentionNeverExpire       RetentionPolicy = "never-expire"
	RetentionCompressAfterDays RetentionPolicy = "compress-after-N-days"
	RetentionDeleteAfterDays   RetentionPolicy = "delete-after-N-days"
)

// ControllerState is the top-level per-task state machine state from
// spec.md §4.9.
type ControllerState string

const (
	StateIdle          ControllerState = "idle"
	StateAssembling    ControllerState = "assembling"
	StateAwaitingPlan  ControllerState = "awaiting-plan"
	StateRunning       ControllerState = "running"
	StateVerifying     ControllerState = "verifying"
	StateSealing       ControllerState = "sealing"
	StateEscalated     ControllerState = "escalated"
	StateSkipping      ControllerState = "skipping"
	StateAborting      ControllerState = "aborting"
)
