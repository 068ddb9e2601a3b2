// Package builder turns a project directory and its optional qbuild.toml into a build: it probes
// the toolchain, assembles flags and drives the incremental compiler in package cc.
package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qbuild/internal/builder/cc"
	"github.com/qobs-build/qbuild/internal/golden"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/qobs-build/qbuild/internal/toolchain"
)

// BuildOptions override the configuration for one invocation. Zero values keep the configured
// setting.
type BuildOptions struct {
	Profile string
	Release bool

	Cxx        string
	ConfigTool string
	Cxxflags   []string
	Ldflags    []string

	SourceDir  string
	BuildDir   string
	IncludeDir string
	Output     string
	Jobs       int
}

// profile returns the selected profile name.
func (o BuildOptions) profile() string {
	switch {
	case o.Profile != "":
		return o.Profile
	case o.Release:
		return "release"
	default:
		return "debug"
	}
}

type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv

	// Runner spawns the compiler, the linker and the built program. Defaults to proc.Exec.
	Runner proc.Runner
	// Probe resolves the toolchain. Defaults to a probe using Runner.
	Probe *toolchain.Probe
}

// NewBuilderInDirectory loads the project at path. A project without qbuild.toml builds with the
// defaults.
func NewBuilderInDirectory(path string) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path)
	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFile), env)
	if errors.Is(err, fs.ErrNotExist) {
		msg.Logger().Debug().Str("dir", path).Msg("no " + ConfigFile + ", using defaults")
		cfg = defaultConfig()
		cfg.applyDefaults(path)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, basedir: path, env: env}, nil
}

func (b *Builder) Config() *Config { return b.cfg }

func (b *Builder) runner() proc.Runner {
	if b.Runner == nil {
		return proc.Exec
	}
	return b.Runner
}

func (b *Builder) probe() *toolchain.Probe {
	if b.Probe == nil {
		return toolchain.NewProbe(b.runner())
	}
	return b.Probe
}

// Path resolves p against the project directory. Absolute paths are returned unchanged.
func (b *Builder) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.basedir, p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// BuildDir is the build directory selected by opts.
func (b *Builder) BuildDir(opts BuildOptions) string {
	return b.Path(firstNonEmpty(opts.BuildDir, b.cfg.Project.BuildDir))
}

// Executable is the path of the executable a build with opts produces.
func (b *Builder) Executable(opts BuildOptions) string {
	return cc.ExecutablePath(b.BuildDir(opts), firstNonEmpty(opts.Output, b.cfg.Project.Name))
}

func (b *Builder) makeCflags(profile string) ([]string, bool, error) {
	if prof, ok := b.cfg.Profile[profile]; ok {
		var cflags []string
		if opt := prof.OptFlag(); opt != "" {
			cflags = append(cflags, opt)
		}
		return cflags, prof.DebugInfo(profile), nil
	}
	return nil, false, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(b.cfg.Profiles(), ", "))
}

func (b *Builder) overrides() []cc.Override {
	var overrides []cc.Override
	for _, pattern := range slices.Sorted(maps.Keys(b.cfg.Build.Overrides)) {
		overrides = append(overrides, cc.Override{Pattern: pattern, Flags: b.cfg.Build.Overrides[pattern]})
	}
	return overrides
}

// Orchestrator resolves the toolchain and sets up the compiler for the project's sources without
// compiling anything.
func (b *Builder) Orchestrator(opts BuildOptions) (*cc.Orchestrator, error) {
	if err := b.cfg.CheckRequirements(b.env); err != nil {
		return nil, err
	}

	profile := opts.profile()
	profileFlags, debug, err := b.makeCflags(profile)
	if err != nil {
		return nil, err
	}

	tc, err := b.probe().Resolve(
		firstNonEmpty(opts.Cxx, b.cfg.Toolchain.Cxx),
		firstNonEmpty(opts.ConfigTool, b.cfg.Toolchain.ConfigTool),
		b.cfg.Toolchain.ConfigVersion,
	)
	if err != nil {
		return nil, err
	}
	msg.Logger().Debug().Str("compiler", tc.Compiler).Str("config-tool", tc.ConfigTool).Str("profile", profile).Msg("toolchain resolved")

	var cflags []string
	cflags = append(cflags, b.cfg.Build.Cxxflags...)
	cflags = append(cflags, opts.Cxxflags...)
	cflags = append(cflags, tc.CompileFlags...)
	cflags = append(cflags, profileFlags...)

	var ldflags []string
	ldflags = append(ldflags, b.cfg.Build.Ldflags...)
	ldflags = append(ldflags, opts.Ldflags...)

	jobs := opts.Jobs
	if jobs == 0 {
		jobs = b.cfg.Build.Jobs
	}

	o, err := cc.New(cc.Options{
		Executable:   firstNonEmpty(opts.Output, b.cfg.Project.Name),
		BuildDir:     b.BuildDir(opts),
		SourceDir:    b.Path(firstNonEmpty(opts.SourceDir, b.cfg.Project.SourceDir)),
		IncludeDir:   b.Path(firstNonEmpty(opts.IncludeDir, b.cfg.Project.IncludeDir)),
		SourceExt:    b.cfg.Project.SourceExt,
		Compiler:     tc.Compiler,
		CompileFlags: cflags,
		Link: cc.LinkFlags{
			Flags:     ldflags,
			Libraries: append(slices.Clone(b.cfg.Build.Libs), tc.Libraries...),
		},
		Overrides: b.overrides(),
		Debug:     debug,
		Jobs:      jobs,
		Runner:    b.runner(),
	})
	if err != nil {
		return nil, err
	}

	for _, name := range slices.Sorted(maps.Keys(b.cfg.Build.Defines)) {
		o.AddDefine(name, b.cfg.Build.Defines[name])
	}
	if name := b.cfg.Build.RevisionDefine; name != "" {
		rev, err := revision(b.basedir)
		if err != nil {
			return nil, err
		}
		o.AddDefine(name, `"`+rev+`"`)
	}

	if err := o.Discover(); err != nil {
		return nil, err
	}
	return o, nil
}

// Build compiles the stale sources of the project and links the executable.
func (b *Builder) Build(opts BuildOptions) (*cc.Report, error) {
	o, err := b.Orchestrator(opts)
	if err != nil {
		return nil, err
	}

	if b.cfg.Build.CompileCommands {
		path, err := o.WriteCompileCommands()
		if err != nil {
			return nil, err
		}
		msg.Logger().Debug().Str("path", path).Msg("wrote compilation database")
	}

	report, err := o.Run()
	if err != nil {
		return report, err
	}
	if report.Linked {
		msg.Info("built %s (%d of %d units compiled)", report.Executable, len(report.Compiled), report.Units)
	}
	return report, nil
}

// BuildAndRun builds the project and runs the executable with args, inheriting stdio. A program
// exiting non-zero is reported as a *proc.ExitError.
func (b *Builder) BuildAndRun(opts BuildOptions, args []string) error {
	report, err := b.Build(opts)
	if err != nil {
		return err
	}
	if !report.Linked {
		return fmt.Errorf("nothing to run: %s was not linked", report.Executable)
	}

	return proc.Check(b.runner(), proc.Command{
		Name:   report.Executable,
		Args:   args,
		Dir:    b.basedir,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
}

// Harness returns the example harness for the project. The compiler under test is the executable
// built with opts unless [test] compiler says otherwise.
func (b *Builder) Harness(opts BuildOptions) *golden.Harness {
	compiler := b.Executable(opts)
	if c := b.cfg.Test.Compiler; c != "" {
		compiler = b.Path(c)
	}
	return &golden.Harness{
		Compiler: compiler,
		Dir:      b.Path(b.cfg.Test.Examples),
		Ext:      b.cfg.Test.Ext,
		Workdir:  b.Path(firstNonEmpty(b.cfg.Test.Workdir, ".")),
		Runner:   b.runner(),
	}
}
