package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/types"
)

var startSprintCmd = &cobra.Command{
	Use:   "start-sprint <sprint-id>",
	Short: "Drive a sprint's tasks to completion, escalation, or abort",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sprintID := args[0]

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
			return fmt.Errorf("no sprint %q in this workspace; create it through the embedding API before starting it", sprintID)
		}

		tasks, err := sess.store.TasksBySprint(context.Background(), sprintID)
		if err != nil {
			return err
		}
		sess.disp.SprintHeader(sprintID, len(tasks))

		result, err := sess.controller.RunSprint(context.Background(), sprintID)
		if err != nil {
			return err
		}

		switch result.Status {
		case types.SprintComplete:
			sess.disp.SprintComplete(len(result.VerifiedIDs))
			return nil
		case types.SprintPaused:
			if result.EscalatedID == "" {
				sess.disp.Warning("sprint stopped by developer")
				exitWith(2, "sprint stopped by developer")
				return nil
			}
			sess.disp.SprintPaused(result.EscalatedID)
			exitWith(3, fmt.Sprintf("sprint paused at %s", result.EscalatedID))
			return nil
		case types.SprintAborted:
			sess.disp.Error("sprint aborted")
			exitWith(2, "sprint aborted")
			return nil
		default:
			return fmt.Errorf("unexpected sprint status %v", result.Status)
		}
	},
}

func init() {
	rootCmd.AddCommand(startSprintCmd)
}
