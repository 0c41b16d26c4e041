package sprintctl

import (
	"fmt"
	"strings"

	"github.com/codor-dev/codor/internal/types"
)

func requestPlanPrompt(task *types.Task) string {
	return fmt.Sprintf(
		"Task %s (%s) has no active test plan.\n"+
			"Reply with a JSON test-plan document: task_id, title, and a test_plan "+
			"object with setup/tests/teardown action lists.",
		task.ID, task.Title)
}

func mainTaskPrompt(task *types.Task, contextBlock string) string {
	return fmt.Sprintf(
		"%s\n\nBegin task %s: %s\n\nWhen finished, end your message with \"@codor done\".",
		contextBlock, task.ID, task.Title)
}

func nudgePrompt(task *types.Task) string {
	return fmt.Sprintf("Still working on %s? Reply with \"@codor done\" once finished, or \"@codor blocker: <reason>\" if stuck.", task.ID)
}

func feedbackPrompt(blocking []types.ActionOutcome) string {
	if len(blocking) == 0 {
		return "The previous attempt failed verification for an unspecified reason. Please review and retry."
	}
	var b strings.Builder
	b.WriteString("The previous attempt did not pass verification:\n")
	for _, o := range blocking {
		fmt.Fprintf(&b, "- %s (%s): %s\n", o.ActionName, o.Kind, o.Reason)
	}
	b.WriteString("\nAddress these and reply with \"@codor done\" when ready to re-verify.")
	return b.String()
}
