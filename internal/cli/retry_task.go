package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/types"
)

var retryTaskCmd = &cobra.Command{
	Use:   "retry-task <sprint-id> <task-id>",
	Short: "Resume a paused sprint, re-attempting its escalated task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sprintID, taskID := args[0], args[1]

		sess, err := openSession(true)
		if err != nil {
			return err
		}
		defer sess.Close()

		sprint, err := sess.store.FindSprint(context.Background(), sprintID)
		if err != nil {
			return err
		}
		if sprint == nil {
			return fmt.Errorf("no sprint %q in this workspace", sprintID)
		}
		if sprint.Status != types.SprintPaused {
			return fmt.Errorf("sprint %s is %v, not paused", sprintID, sprint.Status)
		}

		tasks, err := sess.store.TasksBySprint(context.Background(), sprintID)
		if err != nil {
			return err
		}
		found := false
		for _, t := range tasks {
			if t.ID == taskID {
				found = true
				if t.Status != types.TaskBlocked {
					return fmt.Errorf("task %s is %v, not blocked on an escalation", taskID, t.Status)
				}
			}
		}
		if !found {
			return fmt.Errorf("no task %s in sprint %s", taskID, sprintID)
		}

		sess.disp.Info("retry", fmt.Sprintf("resuming sprint %s at %s", sprintID, taskID))
		result, err := sess.controller.RunSprint(context.Background(), sprintID)
		if err != nil {
			return err
		}

		switch result.Status {
		case types.SprintComplete:
			sess.disp.SprintComplete(len(result.VerifiedIDs))
		case types.SprintPaused:
			if result.EscalatedID == "" {
				sess.disp.Warning("sprint stopped by developer")
				exitWith(2, "sprint stopped by developer")
				return nil
			}
			sess.disp.SprintPaused(result.EscalatedID)
			exitWith(3, fmt.Sprintf("sprint paused again at %s", result.EscalatedID))
		case types.SprintAborted:
			sess.disp.Error("sprint aborted")
			exitWith(2, "sprint aborted")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryTaskCmd)
}
