// qbuild run [path] [args...]
package cmd

import (
	"errors"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/spf13/cobra"
)

func doRun(cmd *cobra.Command, args []string) {
	b := loadBuilder(args)
	if len(args) > 0 {
		args = args[1:] // other arguments will be passed to program
	}

	err := b.BuildAndRun(buildOptions(), args)
	if err == nil {
		return
	}

	// the program's own failure is its exit status, not ours to report
	var exitErr *proc.ExitError
	if errors.As(err, &exitErr) && !linkFailed(err) {
		msg.Exit(exitCode(err))
	}
	fatal(err)
}

var runCmd = &cobra.Command{
	Use:   "run [project path] [program args...]",
	Short: "Build and run the project",
	Long:  `Build and run the project. If no project path is given, uses "."`,
	Args:  cobra.ArbitraryArgs,
	Run:   doRun,
}

func init() {
	// qbuild run subcommand
	rootCmd.AddCommand(runCmd)
	addBuildFlags(runCmd)
}
