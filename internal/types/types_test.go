package types

import (
	"testing"
	"time"
)

func TestTaskCanStart(t *testing.T) {
	tests := []struct {
		name         string
		task         Task
		depStatus    map[string]TaskStatus
		sprintStatus SprintStatus
		want         bool
	}{
		{
			name:         "no deps, sprint running",
			task:         Task{ID: "T001"},
			depStatus:    map[string]TaskStatus{},
			sprintStatus: SprintRunning,
			want:         true,
		},
		{
			name:         "sprint not running blocks start",
			task:         Task{ID: "T001"},
			depStatus:    map[string]TaskStatus{},
			sprintStatus: SprintPaused,
			want:         false,
		},
		{
			name:         "dependency not verified blocks start",
			task:         Task{ID: "T002", Dependencies: []string{"T001"}},
			depStatus:    map[string]TaskStatus{"T001": TaskInProgress},
			sprintStatus: SprintRunning,
			want:         false,
		},
		{
			name:         "all dependencies verified allows start",
			task:         Task{ID: "T003", Dependencies: []string{"T001", "T002"}},
			depStatus:    map[string]TaskStatus{"T001": TaskVerified, "T002": TaskVerified},
			sprintStatus: SprintRunning,
			want:         true,
		},
		{
			name:         "diamond dependency with one unverified leg blocks",
			task:         Task{ID: "T004", Dependencies: []string{"T002", "T003"}},
			depStatus:    map[string]TaskStatus{"T002": TaskVerified, "T003": TaskFailed},
			sprintStatus: SprintRunning,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.task.CanStart(tt.depStatus, tt.sprintStatus)
			if got != tt.want {
				t.Errorf("CanStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttemptIsMutable(t *testing.T) {
	a := Attempt{}
	if !a.IsMutable() {
		t.Error("fresh attempt should be mutable")
	}
	a.End = time.Now()
	if a.IsMutable() {
		t.Error("attempt with end timestamp set should be immutable")
	}
}

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{
			name:   "valid terminal-command",
			action: Action{ID: "a1", Name: "install", Type: ActionTerminalCommand, Command: "npm install"},
		},
		{
			name:    "terminal-command missing command",
			action:  Action{ID: "a1", Name: "install", Type: ActionTerminalCommand},
			wantErr: true,
		},
		{
			name:   "valid http-request",
			action: Action{ID: "a2", Name: "health", Type: ActionHTTPRequest, URL: "http://localhost/health", Method: "GET"},
		},
		{
			name:    "http-request missing method",
			action:  Action{ID: "a2", Name: "health", Type: ActionHTTPRequest, URL: "http://localhost/health"},
			wantErr: true,
		},
		{
			name:   "valid file-check",
			action: Action{ID: "a3", Name: "artifact exists", Type: ActionFileCheck, File: "dist/out.js"},
		},
		{
			name:    "unknown type",
			action:  Action{ID: "a4", Name: "mystery", Type: "not-a-type"},
			wantErr: true,
		},
		{
			name:    "missing id",
			action:  Action{Name: "no id", Type: ActionFileCheck, File: "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultValidationPolicyMatchesSpecDefaults(t *testing.T) {
	p := DefaultValidationPolicy()
	if p.TypeChecking.Strategy != StrategyBlockAlways {
		t.Errorf("type checker default = %v, want block-always", p.TypeChecking.Strategy)
	}
	if p.Compilation.Strategy != StrategyBlockAlways {
		t.Errorf("compilation default = %v, want block-always", p.Compilation.Strategy)
	}
	if p.Linting.Strategy != StrategyBlockOnErrors {
		t.Errorf("linting default = %v, want block-on-errors", p.Linting.Strategy)
	}
}

func TestToolClassPolicyEffectiveStrategyOverride(t *testing.T) {
	p := ToolClassPolicy{
		Strategy: StrategyBlockOnErrors,
		Tools: map[string]ToolOverride{
			"prettier": {Strategy: StrategyWarnOnly},
		},
	}
	if got := p.EffectiveStrategy("eslint"); got != StrategyBlockOnErrors {
		t.Errorf("EffectiveStrategy(eslint) = %v, want class default", got)
	}
	if got := p.EffectiveStrategy("prettier"); got != StrategyWarnOnly {
		t.Errorf("EffectiveStrategy(prettier) = %v, want override", got)
	}
}
