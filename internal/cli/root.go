// Package cli implements the CODOR command surface of spec.md §6: a
// Cobra binary exposing start-sprint, stop-sprint, skip-task, retry-task,
// status, and init, one file per subcommand in the teacher's convention.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set by goreleaser via ldflags.
	Version = "dev"
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "codor",
	Short: "Drive an AI coding assistant through a test-plan-verified sprint",
	Long: `CODOR runs the Sprint Controller: it hands tasks to an assistant one
at a time over a chat channel, verifies each with its test plan, commits
and tags on success, and escalates to the developer on repeated failure.

Workflow:
  1. codor init                 # scaffold .codor/ in the current directory
  2. codor start-sprint <id>    # drive tasks until complete or escalated
  3. codor status               # inspect attempts and evidence
  4. codor retry-task / codor skip-task   # resolve an escalation
  5. codor stop-sprint          # pause a running sprint`,
	Version: Version,
}

// Execute runs the root command. Exit codes follow spec.md §6: 0 on
// clean completion, 2 on developer-initiated stop, 3 on unresolved
// escalation.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.SetVersionTemplate(fmt.Sprintf("codor version %s\n", Version))
}

func exitWith(code int, msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(code)
}
