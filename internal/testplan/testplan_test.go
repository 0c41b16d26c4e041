package testplan

import (
	"context"
	"testing"

	"github.com/codor-dev/codor/internal/executor"
	"github.com/codor-dev/codor/internal/types"
)

func TestParseValidDocument(t *testing.T) {
	raw := []byte(`{
		"schema_version": "1",
		"task_id": "T001",
		"title": "add login",
		"test_plan": {
			"setup": [{"id": "s1", "name": "install", "type": "terminal-command", "command": "npm install"}],
			"tests": [{"id": "t1", "name": "unit tests", "type": "terminal-command", "command": "npm test"}],
			"teardown": [{"id": "d1", "name": "reset db", "type": "terminal-command", "command": "npm run db:reset"}]
		}
	}`)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TaskID != "T001" || len(doc.TestPlan.Tests) != 1 {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestParseMissingRequiredFieldsIsSpecificationError(t *testing.T) {
	raw := []byte(`{"task_id": "T001", "test_plan": {"setup": [], "tests": [], "teardown": []}}`)
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected validation error for missing title")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestParseUnknownActionType(t *testing.T) {
	raw := []byte(`{
		"task_id": "T001", "title": "x",
		"test_plan": {"setup": [], "tests": [{"id": "t1", "name": "n", "type": "sql-query"}], "teardown": []}
	}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestParseYAMLDocument(t *testing.T) {
	raw := []byte(`
task_id: T002
title: add logout
test_plan:
  setup: []
  tests:
    - id: t1
      name: unit tests
      type: terminal-command
      command: npm test
  teardown: []
`)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TaskID != "T002" {
		t.Errorf("task_id = %q, want T002", doc.TaskID)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	plan := &types.TestPlan{
		TaskID: "T001",
		Setup:  []types.Action{{ID: "s1", Name: "install", Type: types.ActionTerminalCommand, Command: "true"}},
		Tests:  []types.Action{{ID: "t1", Name: "unit tests", Type: types.ActionTerminalCommand, Command: "true"}},
		Teardown: []types.Action{
			{ID: "d1", Name: "reset", Type: types.ActionTerminalCommand, Command: "true"},
		},
	}
	result := Execute(context.Background(), plan, types.DefaultValidationPolicy(), executor.Environment{WorkDir: t.TempDir()}, nil, nil)

	if !result.AllBlockingOK {
		t.Fatalf("expected all-blocking-ok, got %+v", result.Outcomes)
	}
	if result.SetupAborted || result.TestsHalted {
		t.Error("happy path should not abort or halt")
	}
	if len(result.Outcomes) != 3 {
		t.Errorf("got %d outcomes, want 3", len(result.Outcomes))
	}
}

func TestExecuteSetupFailureSkipsTests(t *testing.T) {
	plan := &types.TestPlan{
		TaskID: "T001",
		Setup:  []types.Action{{ID: "s1", Name: "install", Type: types.ActionTerminalCommand, Command: "exit 1"}},
		Tests:  []types.Action{{ID: "t1", Name: "never runs", Type: types.ActionTerminalCommand, Command: "touch /should-not-exist-marker"}},
	}
	result := Execute(context.Background(), plan, types.DefaultValidationPolicy(), executor.Environment{WorkDir: t.TempDir()}, nil, nil)

	if !result.SetupAborted {
		t.Error("expected setup to abort")
	}
	if !result.TestsHalted {
		t.Error("expected tests to be skipped")
	}
	for _, oc := range result.Outcomes {
		if oc.ActionID == "t1" {
			t.Error("test action t1 should not have run when setup failed")
		}
	}
}

func TestExecuteFailFastOnFirstBlockingTest(t *testing.T) {
	plan := &types.TestPlan{
		TaskID: "T001",
		Tests: []types.Action{
			{ID: "t1", Name: "first fails", Type: types.ActionTerminalCommand, Command: "exit 1"},
			{ID: "t2", Name: "second never runs", Type: types.ActionTerminalCommand, Command: "true"},
		},
	}
	result := Execute(context.Background(), plan, types.DefaultValidationPolicy(), executor.Environment{WorkDir: t.TempDir()}, nil, nil)

	if !result.TestsHalted {
		t.Error("expected test block to halt on first blocking failure")
	}
	if len(result.Outcomes) != 1 {
		t.Errorf("got %d outcomes, want 1 (fail-fast)", len(result.Outcomes))
	}
}

func TestExecuteTeardownAlwaysRunsAndNeverBlocks(t *testing.T) {
	plan := &types.TestPlan{
		TaskID:   "T001",
		Tests:    []types.Action{{ID: "t1", Name: "ok", Type: types.ActionTerminalCommand, Command: "true"}},
		Teardown: []types.Action{{ID: "d1", Name: "cleanup fails", Type: types.ActionTerminalCommand, Command: "exit 1"}},
	}
	result := Execute(context.Background(), plan, types.DefaultValidationPolicy(), executor.Environment{WorkDir: t.TempDir()}, nil, nil)

	if !result.AllBlockingOK {
		t.Error("teardown failure must not flip AllBlockingOK")
	}
	found := false
	for _, oc := range result.Outcomes {
		if oc.ActionID == "d1" {
			found = true
			if oc.Blocking {
				t.Error("teardown outcome must not be marked blocking")
			}
		}
	}
	if !found {
		t.Error("teardown action should still have run")
	}
}
