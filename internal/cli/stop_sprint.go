package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/types"
)

var stopSprintCmd = &cobra.Command{
	Use:   "stop-sprint <sprint-id>",
	Short: "Request a running sprint to pause at its next suspension point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sprintID := args[0]

		sess, err := openStoreSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.store.TransitionSprint(context.Background(), sprintID, types.SprintPaused, time.Now()); err != nil {
			return err
		}
		sess.disp.Warning(fmt.Sprintf("sprint %s stop requested", sprintID))
		exitWith(2, "developer-initiated stop")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopSprintCmd)
}
