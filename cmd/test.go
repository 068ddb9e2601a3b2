// qbuild test [update], qbuild record <example> [args...]
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/qobs-build/qbuild/internal/builder"
	"github.com/qobs-build/qbuild/internal/golden"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagTestDir      string
	flagTestExamples string
	flagTestExt      string
	flagTestCompiler string
)

func loadHarness() *golden.Harness {
	return harnessFor(loadBuilder([]string{flagTestDir}))
}

// harnessFor applies the harness flags on top of the project's [test] settings. Relative paths
// are taken from the project directory, like the ones in the config.
func harnessFor(b *builder.Builder) *golden.Harness {
	h := b.Harness(buildOptions())
	if flagTestExamples != "" {
		h.Dir = b.Path(flagTestExamples)
	}
	if flagTestExt != "" {
		h.Ext = flagTestExt
	}
	if flagTestCompiler != "" {
		h.Compiler = b.Path(flagTestCompiler)
	}
	return h
}

// exampleFailed reports a failed example the way the harness always has and exits.
func exampleFailed(err error) {
	var compileErr *golden.CompileError
	if errors.As(err, &compileErr) {
		msg.Plain("%s", compileErr.Stdout)
		msg.Plain("%s", compileErr.Stderr)
		msg.Plain("-----------------------------------------")
		msg.Error("failed to compile %s, update the example or fix the compiler", compileErr.Example)
		msg.Exit(exitCode(err))
	}

	var mismatch *golden.MismatchError
	if errors.As(err, &mismatch) {
		msg.Error("example %s failed", mismatch.Example)
		msg.Plain("Expected %s: %s", mismatch.Field, mismatch.Expected)
		msg.Plain("Actual %s: %s", mismatch.Field, mismatch.Actual)
		if mismatch.Field != "returncode" {
			var diff strings.Builder
			io.WriteString(&msg.IndentWriter{Indent: "    ", W: &diff}, mismatch.Diff())
			msg.Plain("Diff:\n%s", diff.String())
		}
		msg.Exit(exitCode(err))
	}

	msg.Fatal("%v", err)
}

var testCmd = &cobra.Command{
	Use:   "test [update]",
	Short: "Check the examples against their recorded outputs",
	Long: `Compile every example with the built executable, run it and compare its exit code,
stdout and stderr with the recorded ones. Examples without a record get one.
With "update", every record is regenerated.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"update"},
	Run: func(cmd *cobra.Command, args []string) {
		update := len(args) == 1
		sum, err := loadHarness().Sweep(update)
		if err != nil {
			exampleFailed(err)
		}
		msg.Plain("\n%s", sum)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <example> [program args...]",
	Short: "Record the output of one example run with the given arguments",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rec, err := loadHarness().Update(args[0], args[1:]...)
		if err != nil {
			exampleFailed(err)
		}
		msg.Info("recorded %s (return code %d, %s)", golden.RecordPath(args[0]), rec.ReturnCode, argsSummary(rec.Args))
	},
}

func argsSummary(args []string) string {
	if len(args) == 1 {
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", len(args))
}

func addHarnessFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagTestDir, "dir", "C", ".", "Project directory")
	cmd.Flags().StringVar(&flagTestExamples, "examples", "", "Examples directory (default from "+builder.ConfigFile+", else examples)")
	cmd.Flags().StringVar(&flagTestExt, "ext", "", "Example file extension (default .qr)")
	cmd.Flags().StringVar(&flagTestCompiler, "compiler", "", "Compiler under test (default the built executable)")
	cmd.Flags().StringVarP(&flagBuildDir, "build-directory", "B", "", "Build directory holding the executable")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Executable name")
}

func init() {
	// qbuild test subcommand
	rootCmd.AddCommand(testCmd)
	addHarnessFlags(testCmd)

	// qbuild record subcommand
	rootCmd.AddCommand(recordCmd)
	addHarnessFlags(recordCmd)
}
