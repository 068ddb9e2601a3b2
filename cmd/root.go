// qbuild [path], qbuild build [path]
package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/qobs-build/qbuild/internal/builder"
	"github.com/qobs-build/qbuild/internal/builder/cc"
	"github.com/qobs-build/qbuild/internal/golden"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/spf13/cobra"
)

var (
	flagProfile    string
	flagRelease    bool
	flagCxx        string
	flagConfigTool string
	flagCxxflags   []string
	flagLdflags    []string
	flagSourceDir  string
	flagBuildDir   string
	flagIncludeDir string
	flagOutput     string
	flagJobs       int
	flagClean      bool

	flagVerbose bool
	flagColor   EnumValue = NewEnumValue("auto", map[string]string{
		"auto":   "Colour output when writing to a terminal (default)",
		"always": "Always colour output",
		"never":  "Never colour output",
	})
)

func buildOptions() builder.BuildOptions {
	return builder.BuildOptions{
		Profile:    flagProfile,
		Release:    flagRelease,
		Cxx:        flagCxx,
		ConfigTool: flagConfigTool,
		Cxxflags:   flagCxxflags,
		Ldflags:    flagLdflags,
		SourceDir:  flagSourceDir,
		BuildDir:   flagBuildDir,
		IncludeDir: flagIncludeDir,
		Output:     flagOutput,
		Jobs:       flagJobs,
	}
}

// exitCode is the status qbuild exits with after err: the status of a rejected example or of a
// failed subprocess, 1 for anything else.
func exitCode(err error) int {
	code := 1
	var compileErr *golden.CompileError
	var mismatch *golden.MismatchError
	var exitErr *proc.ExitError
	switch {
	case errors.As(err, &compileErr):
		code = compileErr.Code
	case errors.As(err, &mismatch):
		code = 1
	case errors.As(err, &exitErr):
		code = exitErr.Code
	}
	if code == 0 {
		return 1
	}
	return code
}

// fatal reports err and exits, propagating the status of a failed subprocess.
func fatal(err error) {
	var exitErr *proc.ExitError
	if errors.As(err, &exitErr) {
		msg.Error("%v", err)
		msg.Exit(exitCode(err))
	}
	msg.Fatal("%v", err)
}

func loadBuilder(args []string) *builder.Builder {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}
	return b
}

func doBuild(cmd *cobra.Command, args []string) {
	b := loadBuilder(args)
	opts := buildOptions()

	if flagClean {
		dir := b.BuildDir(opts)
		if err := builder.Clean(dir); err != nil {
			fatal(err)
		}
		msg.Info("cleaned %s", dir)
		return
	}

	if _, err := b.Build(opts); err != nil {
		fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qbuild [project path]",
	Short: "Incremental C++ build driver with golden-output example tests",
	Long: `Incremental C++ build driver with golden-output example tests.

Compiles every stale source file of the project, links the executable once all of
them compiled, and checks example programs against their recorded outputs.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch flagColor.Value() {
		case "always":
			color.NoColor = false
		case "never":
			color.NoColor = true
		}
		msg.SetVerbose(flagVerbose)
	},
	Run: doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project path]",
	Short: "Build the project",
	Long:  `Build the project. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every command and debug diagnostics")
	rootCmd.PersistentFlags().Var(&flagColor, "color", "When to colour output, one of "+flagColor.HelpString())
	rootCmd.RegisterFlagCompletionFunc("color", flagColor.CompletionFunc())

	addBuildFlags(rootCmd)
	rootCmd.Flags().BoolVar(&flagClean, "clean", false, "Delete the contents of the build directory and exit")

	// qbuild build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
	buildCmd.Flags().BoolVar(&flagClean, "clean", false, "Delete the contents of the build directory and exit")
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", "", "Build with the given profile (default debug, or release with --release)")
	cmd.Flags().BoolVarP(&flagRelease, "release", "r", false, "Build in release mode")
	cmd.Flags().StringVar(&flagCxx, "cxx", "", "C++ compiler to use (default $CXX or the first one found)")
	cmd.Flags().StringVar(&flagConfigTool, "config-tool", "", "Library config helper to query for flags, e.g. llvm-config-14")
	cmd.Flags().StringSliceVar(&flagCxxflags, "cxxflags", nil, "Extra compile flags, comma separated")
	cmd.Flags().StringSliceVar(&flagLdflags, "ldflags", nil, "Extra link flags, comma separated")
	cmd.Flags().StringVarP(&flagSourceDir, "source-directory", "S", "", "Source directory (default src)")
	cmd.Flags().StringVarP(&flagBuildDir, "build-directory", "B", "", "Build directory (default build)")
	cmd.Flags().StringVarP(&flagIncludeDir, "include-directory", "I", "", "Include directory (default include)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Executable name (default the project name)")
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of files compiled in parallel (default from "+builder.ConfigFile+", else 1)")
}

// linkFailed reports whether err ended a build at the link step.
func linkFailed(err error) bool {
	var linkErr *cc.LinkError
	return errors.As(err, &linkErr)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		msg.Fatal("%v", err)
	}
}
