package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/types"
)

var skipTaskCmd = &cobra.Command{
	Use:   "skip-task <sprint-id> <task-id>",
	Short: "Mark an escalated task skipped so the sprint can continue past it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sprintID, taskID := args[0], args[1]

		sess, err := openStoreSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		task, err := findTask(sess, sprintID, taskID)
		if err != nil {
			return err
		}
		if task.Status != types.TaskBlocked {
			return fmt.Errorf("task %s is %v, not blocked on an escalation", taskID, task.Status)
		}

		if err := sess.store.TransitionTask(context.Background(), taskID, types.TaskSkipped, "", time.Now()); err != nil {
			return err
		}
		sess.disp.Warning(fmt.Sprintf("%s skipped; run 'codor start-sprint %s' to continue", taskID, sprintID))
		return nil
	},
}

func findTask(sess *storeSession, sprintID, taskID string) (*types.Task, error) {
	tasks, err := sess.store.TasksBySprint(context.Background(), sprintID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no task %s in sprint %s", taskID, sprintID)
}

func init() {
	rootCmd.AddCommand(skipTaskCmd)
}
