// Package cc is the native incremental builder: it compiles every stale source file of one
// executable and links the object files once all of them compiled.
package cc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCompileFailed = errors.New("compilation failed")
	errNoJobs        = errors.New("job count must be at least 1")
)

// LinkFlags keeps linker flags apart from libraries because libraries have to follow the object
// files on the command line.
type LinkFlags struct {
	Flags     []string
	Libraries []string
}

// Override adds Flags to every discovered unit whose source-relative path matches Pattern.
type Override struct {
	Pattern string
	Flags   []string
}

// Options configure an Orchestrator. Compiler and Runner are per-orchestrator so several
// builds can use different toolchains side by side.
type Options struct {
	Executable string
	BuildDir   string
	SourceDir  string
	IncludeDir string
	SourceExt  string

	Compiler     string
	CompileFlags []string
	Link         LinkFlags
	Overrides    []Override

	Debug bool
	Jobs  int

	Runner proc.Runner
}

// Report summarizes one build invocation.
type Report struct {
	Executable string
	Units      int
	Compiled   []string
	Failed     []string
	Linked     bool
}

type Orchestrator struct {
	opts  Options
	flags []string
	link  LinkFlags
	units []*Unit
}

// New creates the build directory and derives the global flags: include path first, then debug
// symbols when requested.
func New(opts Options) (*Orchestrator, error) {
	if opts.Jobs < 1 {
		return nil, errNoJobs
	}
	if opts.Runner == nil {
		opts.Runner = proc.Exec
	}
	if opts.SourceExt == "" {
		opts.SourceExt = ".cpp"
	}

	if err := os.MkdirAll(opts.BuildDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	o := &Orchestrator{
		opts:  opts,
		flags: slices.Clone(opts.CompileFlags),
		link: LinkFlags{
			Flags:     slices.Clone(opts.Link.Flags),
			Libraries: slices.Clone(opts.Link.Libraries),
		},
	}
	if opts.IncludeDir != "" {
		o.flags = append(o.flags, "-I"+opts.IncludeDir)
	}
	if opts.Debug {
		o.flags = append(o.flags, "-g")
		o.link.Flags = append(o.link.Flags, "-g")
	}
	return o, nil
}

// AddFlag appends flag+value to the global compile flags. Only units added afterwards see it.
func (o *Orchestrator) AddFlag(flag, value string) {
	o.flags = append(o.flags, flag+value)
}

// AddDefine adds a -D macro definition; an empty value defines the bare name.
func (o *Orchestrator) AddDefine(name, value string) {
	if value == "" {
		o.AddFlag("-D", name)
		return
	}
	o.AddFlag("-D", name+"="+value)
}

// Flags returns the current global compile flags.
func (o *Orchestrator) Flags() []string { return slices.Clone(o.flags) }

// LinkFlags returns the flags and libraries used for linking.
func (o *Orchestrator) LinkFlags() LinkFlags { return o.link }

// Units returns the registered units in registration order.
func (o *Orchestrator) Units() []*Unit { return o.units }

// Add registers one source file with the global flags followed by extra.
func (o *Orchestrator) Add(source string, extra ...string) error {
	flags := append(slices.Clone(o.flags), extra...)
	u, err := NewUnit(source, o.opts.SourceDir, o.opts.BuildDir, flags)
	if err != nil {
		return err
	}
	o.units = append(o.units, u)
	return nil
}

// Discover registers every source file under the source directory, in lexical order.
func (o *Orchestrator) Discover() error {
	if o.opts.SourceDir == "" {
		return nil
	}
	matches, err := doublestar.Glob(os.DirFS(o.opts.SourceDir), "**/*"+o.opts.SourceExt, doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("while globbing %s: %w", o.opts.SourceDir, err)
	}
	slices.Sort(matches)

	overrides := slices.Clone(o.opts.Overrides)
	slices.SortStableFunc(overrides, func(a, b Override) int { return strings.Compare(a.Pattern, b.Pattern) })

	for _, match := range matches {
		var extra []string
		for _, ov := range overrides {
			ok, err := doublestar.Match(ov.Pattern, match)
			if err != nil {
				return fmt.Errorf("bad override pattern %q: %w", ov.Pattern, err)
			}
			if ok {
				extra = append(extra, ov.Flags...)
			}
		}
		if err := o.Add(filepath.Join(o.opts.SourceDir, filepath.FromSlash(match)), extra...); err != nil {
			return err
		}
	}
	return nil
}

// Executable is the path of the linked program.
func (o *Orchestrator) Executable() string {
	return ExecutablePath(o.opts.BuildDir, o.opts.Executable)
}

// ExecutablePath is where an executable called name is linked inside buildDir.
func ExecutablePath(buildDir, name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	return filepath.Join(buildDir, name)
}

// Run compiles the registered units and links them when every unit succeeded. With one job
// units run in order and the first failure stops the build; with more, stale units run in
// batches of Jobs and failures are only looked at once every batch has finished.
func (o *Orchestrator) Run() (*Report, error) {
	report := &Report{Executable: o.Executable(), Units: len(o.units)}
	if len(o.units) == 0 {
		msg.Warn("no %s files found in %s, nothing to link", o.opts.SourceExt, o.opts.SourceDir)
		return report, nil
	}

	var results []Result
	if o.opts.Jobs > 1 {
		results = o.runParallel()
	} else {
		results = o.runSerial()
	}

	for _, res := range results {
		if res.Compiled {
			report.Compiled = append(report.Compiled, res.Unit.Rel)
		}
		if res.Failed() {
			report.Failed = append(report.Failed, res.Unit.Rel)
		}
	}
	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %s", ErrCompileFailed, strings.Join(report.Failed, ", "))
	}

	objects := make([]string, 0, len(o.units))
	for _, u := range o.units {
		out, err := u.Output()
		if err != nil {
			return report, err
		}
		objects = append(objects, out)
	}

	if err := o.linkObjects(objects); err != nil {
		return report, err
	}
	report.Linked = true
	return report, nil
}

func (o *Orchestrator) runSerial() []Result {
	results := make([]Result, 0, len(o.units))
	for _, u := range o.units {
		res := u.Run(o.opts.Compiler, o.opts.Runner)
		results = append(results, res)
		if res.Failed() {
			break
		}
	}
	return results
}

func (o *Orchestrator) runParallel() []Result {
	var stale []*Unit
	for _, u := range o.units {
		if u.ShouldRecompile() {
			stale = append(stale, u)
		}
	}

	batches := chunk(stale, o.opts.Jobs)
	pb := msg.NewProgressBar(len(stale), 2, nil)
	results := make([]Result, 0, len(stale))

	for i, batch := range batches {
		msg.Logger().Debug().Int("batch", i+1).Int("of", len(batches)).Int("units", len(batch)).Msg("starting batch")

		batchResults := make([]Result, len(batch))
		// a plain group never cancels, so every unit of the batch runs even after a failure
		var g errgroup.Group
		for j, u := range batch {
			g.Go(func() error {
				batchResults[j] = u.Run(o.opts.Compiler, o.opts.Runner)
				return batchResults[j].Err
			})
		}
		if err := g.Wait(); err != nil {
			msg.Logger().Debug().Int("batch", i+1).Err(err).Msg("batch finished with failures")
		}

		results = append(results, batchResults...)
		pb.Add(len(batch))
	}
	return results
}

// chunk splits units into consecutive groups of at most size.
func chunk(units []*Unit, size int) [][]*Unit {
	var batches [][]*Unit
	for size < len(units) {
		units, batches = units[size:], append(batches, units[:size:size])
	}
	if len(units) > 0 {
		batches = append(batches, units)
	}
	return batches
}
