// Package testplan implements the Test-Plan Engine of spec.md §4.4:
// validates, versions, and executes the structured test-plan document
// format defined in spec.md §6.
package testplan

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codor-dev/codor/internal/types"
)

// knownSchemaVersions is the set of schema versions this engine accepts.
// spec.md §6: "The schema is versioned; the engine accepts any plan whose
// declared schema version it knows."
var knownSchemaVersions = map[string]bool{"1": true, "1.0": true}

// Document is the wire format of spec.md §6: task_id, title, optional
// description, and a test_plan object with three ordered action lists
// plus an optional coverage section.
type Document struct {
	SchemaVersion string          `json:"schema_version" yaml:"schema_version"`
	TaskID        string          `json:"task_id" yaml:"task_id"`
	Title         string          `json:"title" yaml:"title"`
	Description   string          `json:"description" yaml:"description"`
	TestPlan      DocumentTestPlan `json:"test_plan" yaml:"test_plan"`
}

// DocumentTestPlan is the nested test_plan object.
type DocumentTestPlan struct {
	Setup    []DocumentAction `json:"setup" yaml:"setup"`
	Tests    []DocumentAction `json:"tests" yaml:"tests"`
	Teardown []DocumentAction `json:"teardown" yaml:"teardown"`
	Coverage *DocumentCoverage `json:"coverage,omitempty" yaml:"coverage,omitempty"`
}

// DocumentCoverage is the optional coverage sub-section.
type DocumentCoverage struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Threshold int      `json:"threshold" yaml:"threshold"`
	Paths     []string `json:"paths" yaml:"paths"`
}

// DocumentAction is one action as it appears on the wire: a typed union
// represented as a flat struct with type-specific fields left empty when
// unused, per spec.md §9's "tagged variant, avoid open polymorphism".
type DocumentAction struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	Type             string `json:"type" yaml:"type"`
	Command          string `json:"command,omitempty" yaml:"command,omitempty"`
	URL              string `json:"url,omitempty" yaml:"url,omitempty"`
	Method           string `json:"method,omitempty" yaml:"method,omitempty"`
	Body             string `json:"body,omitempty" yaml:"body,omitempty"`
	File             string `json:"file,omitempty" yaml:"file,omitempty"`
	ContentSubstring string `json:"content_substring,omitempty" yaml:"content_substring,omitempty"`
	MinBytes         int64  `json:"min_bytes,omitempty" yaml:"min_bytes,omitempty"`
	MaxBytes         int64  `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	ExpectedHash     string `json:"expected_hash,omitempty" yaml:"expected_hash,omitempty"`
	ExpectedExitCode *int   `json:"expected_exit_code,omitempty" yaml:"expected_exit_code,omitempty"`
	TimeoutSeconds   int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StrictWarnings   bool   `json:"strict_warnings,omitempty" yaml:"strict_warnings,omitempty"`
}

// ValidationError is a structured, schema-load-time failure. It classifies
// as types.KindSpecificationError per spec.md §4.2 rule 7, and it is never
// counted as a retry per spec.md §7.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("test plan validation failed: %v", e.Messages)
}

// ToPrompt renders the validation errors as assistant-facing feedback, the
// way the teacher's validation_loop.go surfaces structured errors to
// Claude for self-healing.
func (e *ValidationError) ToPrompt() string {
	out := "Your test plan has schema errors:\n"
	for _, m := range e.Messages {
		out += "- " + m + "\n"
	}
	return out
}

// Parse decodes a test-plan document from either JSON or YAML bytes
// (test plans are commonly hand-authored as YAML, the way the teacher's
// PLAN.md frontmatter is, even though the wire format in spec.md §6 is
// JSON) and validates it against the fixed schema.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	jsonErr := json.Unmarshal(raw, &doc)
	if jsonErr != nil {
		if yamlErr := yaml.Unmarshal(raw, &doc); yamlErr != nil {
			return nil, &ValidationError{Messages: []string{
				fmt.Sprintf("could not parse as JSON (%v) or YAML (%v)", jsonErr, yamlErr),
			}}
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the fixed schema from spec.md §4.4: task_id and title are
// required and schema_version, when set, must be known; each action in
// setup, tests, and teardown has a unique id, a name, and a typed body.
// It does not check that the setup, tests, and teardown lists are present
// (an absent list is treated as empty), and expected_exit_code is optional
// for commands (unset means 0).
func (d *Document) Validate() error {
	var errs []string

	if d.TaskID == "" {
		errs = append(errs, "task_id is required")
	}
	if d.Title == "" {
		errs = append(errs, "title is required")
	}
	if d.SchemaVersion != "" && !knownSchemaVersions[d.SchemaVersion] {
		errs = append(errs, fmt.Sprintf("unknown schema_version %q", d.SchemaVersion))
	}

	seen := map[string]bool{}
	validateList := func(section string, actions []DocumentAction) {
		for _, a := range actions {
			if a.ID == "" {
				errs = append(errs, fmt.Sprintf("%s: action missing id", section))
				continue
			}
			if seen[a.ID] {
				errs = append(errs, fmt.Sprintf("%s: duplicate action id %q", section, a.ID))
			}
			seen[a.ID] = true
			if a.Name == "" {
				errs = append(errs, fmt.Sprintf("%s/%s: name is required", section, a.ID))
			}
			if !types.ActionType(a.Type).IsValid() {
				errs = append(errs, fmt.Sprintf("%s/%s: unknown type %q", section, a.ID, a.Type))
				continue
			}
			switch types.ActionType(a.Type) {
			case types.ActionTerminalCommand:
				if a.Command == "" {
					errs = append(errs, fmt.Sprintf("%s/%s: command is required", section, a.ID))
				}
			case types.ActionHTTPRequest:
				if a.URL == "" || a.Method == "" {
					errs = append(errs, fmt.Sprintf("%s/%s: url and method are required", section, a.ID))
				}
			case types.ActionFileCheck:
				if a.File == "" {
					errs = append(errs, fmt.Sprintf("%s/%s: file is required", section, a.ID))
				}
			}
		}
	}
	validateList("setup", d.TestPlan.Setup)
	validateList("tests", d.TestPlan.Tests)
	validateList("teardown", d.TestPlan.Teardown)

	if d.TestPlan.Coverage != nil && d.TestPlan.Coverage.Enabled && d.TestPlan.Coverage.Threshold <= 0 {
		errs = append(errs, "coverage.threshold must be positive when coverage is enabled")
	}

	if len(errs) > 0 {
		return &ValidationError{Messages: errs}
	}
	return nil
}

// ToPlan converts a validated wire Document into the internal types.TestPlan
// representation stored by the Task Store.
func (d *Document) ToPlan() *types.TestPlan {
	plan := &types.TestPlan{
		TaskID:   d.TaskID,
		Setup:    toActions(d.TestPlan.Setup),
		Tests:    toActions(d.TestPlan.Tests),
		Teardown: toActions(d.TestPlan.Teardown),
	}
	if d.TestPlan.Coverage != nil {
		plan.Coverage = &types.CoverageSpec{
			Enabled:   d.TestPlan.Coverage.Enabled,
			Threshold: d.TestPlan.Coverage.Threshold,
			Paths:     d.TestPlan.Coverage.Paths,
		}
	}
	return plan
}

func toActions(in []DocumentAction) []types.Action {
	out := make([]types.Action, 0, len(in))
	for _, a := range in {
		exitCode := 0
		if a.ExpectedExitCode != nil {
			exitCode = *a.ExpectedExitCode
		}
		timeout := time.Duration(a.TimeoutSeconds) * time.Second
		out = append(out, types.Action{
			ID:               a.ID,
			Name:             a.Name,
			Type:             types.ActionType(a.Type),
			Command:          a.Command,
			URL:              a.URL,
			Method:           a.Method,
			Body:             a.Body,
			File:             a.File,
			ContentSubstring: a.ContentSubstring,
			MinBytes:         a.MinBytes,
			MaxBytes:         a.MaxBytes,
			ExpectedHash:     a.ExpectedHash,
			ExpectedExitCode: exitCode,
			Timeout:          timeout,
			StrictWarnings:   a.StrictWarnings,
		})
	}
	return out
}
