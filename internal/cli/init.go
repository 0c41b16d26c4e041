package cli

import (
	"github.com/spf13/cobra"

	"github.com/codor-dev/codor/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a .codor/ workspace in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspace.Init(initForce)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing .codor/ workspace")
	rootCmd.AddCommand(initCmd)
}
