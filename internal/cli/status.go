package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/display"
	"github.com/codor-dev/codor/internal/evidence"
	"github.com/codor-dev/codor/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [sprint-id]",
	Short: "Report sprint and task state, and sweep evidence retention",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(false)
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.evidence.Sweep(evidence.RetentionConfig{
			Policy:            sess.cfg.RetentionPolicy(),
			CompressAfterDays: sess.cfg.Evidence.RetentionDays,
			DeleteAfterDays:   sess.cfg.Evidence.RetentionDays * 4,
		}, time.Now()); err != nil {
			sess.disp.Warning(fmt.Sprintf("evidence sweep: %v", err))
		}

		if len(args) == 0 {
			return reportAllSprints(sess)
		}
		return reportSprint(sess, args[0])
	},
}

func reportAllSprints(sess *session) error {
	sess.disp.Info("workspace", sess.workspaceDir)
	sess.disp.Info("hint", "pass a sprint id for per-task detail: codor status <sprint-id>")
	return nil
}

func reportSprint(sess *session, sprintID string) error {
	ctx := context.Background()

	sprint, err := sess.store.FindSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	if sprint == nil {
		return fmt.Errorf("no sprint %q in this workspace", sprintID)
	}

	tasks, err := sess.store.TasksBySprint(ctx, sprintID)
	if err != nil {
		return err
	}

	sess.disp.Info("sprint", fmt.Sprintf("%s (%v)", sprint.ID, sprint.Status))
	for _, t := range tasks {
		sess.disp.Status(statusSymbol(sess, t.Status), fmt.Sprintf("%s %s — %v", t.ID, t.Title, t.Status))

		attempts, err := sess.store.AttemptsByTask(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			duration := a.End.Sub(a.Start)
			sess.disp.Attempt(t.ID, a.Number, a.Status == types.KindSuccess, duration)
		}

		flags, err := sess.store.FlakyFlagsByTask(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, f := range flags {
			sess.disp.Warning(fmt.Sprintf("%s: %q flagged flaky (%d failures before passing at %s)",
				t.ID, f.TestName, f.Failures, f.PassedAt.Format(time.RFC3339)))
		}
	}
	return nil
}

func statusSymbol(sess *session, status types.TaskStatus) string {
	theme := sess.disp.Theme()
	switch status {
	case types.TaskVerified, types.TaskCompleted:
		return theme.Success(display.SymbolSuccess)
	case types.TaskFailed:
		return theme.Error(display.SymbolError)
	case types.TaskBlocked:
		return theme.Escalated(display.SymbolEscalated)
	case types.TaskSkipped:
		return theme.Warning(display.SymbolWarning)
	case types.TaskInProgress:
		return theme.Info(display.SymbolRunning)
	default:
		return theme.Info(display.SymbolPending)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
