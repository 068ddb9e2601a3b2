package cc

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
)

// ObjectExt is the extension of object files written under the build directory.
const ObjectExt = ".o"

// Unit is one source file compiled to one object file.
type Unit struct {
	// Source is the absolute path of the source file.
	Source string
	// Rel is Source relative to the source root; the object file mirrors it under the build root.
	Rel string
	// Flags are the global flags followed by any flags specific to this unit.
	Flags []string

	buildDir string
}

// NewUnit registers source for compilation into buildDir.
func NewUnit(source, sourceRoot, buildDir string, flags []string) (*Unit, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}

	rel := filepath.Base(abs)
	if sourceRoot != "" {
		r, err := filepath.Rel(sourceRoot, abs)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			msg.Warn("source file %s is outside of source directory %s", abs, sourceRoot)
		} else {
			rel = r
		}
	}

	return &Unit{
		Source:   abs,
		Rel:      rel,
		Flags:    slices.Clone(flags),
		buildDir: buildDir,
	}, nil
}

// ObjectPath is the object file for this unit. It only depends on the source path and the
// build root.
func (u *Unit) ObjectPath() string {
	return filepath.Join(u.buildDir, strings.TrimSuffix(u.Rel, filepath.Ext(u.Rel))+ObjectExt)
}

// Output returns ObjectPath after making sure its parent directory exists.
func (u *Unit) Output() (string, error) {
	out := u.ObjectPath()
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return out, fmt.Errorf("failed to create object directory: %w", err)
	}
	return out, nil
}

// ShouldRecompile reports whether the object file is missing or strictly older than the source.
// Equal modification times count as up to date.
func (u *Unit) ShouldRecompile() bool {
	obj, err := os.Stat(u.ObjectPath())
	if err != nil {
		return true
	}
	src, err := os.Stat(u.Source)
	if err != nil {
		// let the compiler report the missing source
		return true
	}
	return src.ModTime().After(obj.ModTime())
}

// Command is the compiler invocation producing out.
func (u *Unit) Command(compiler, out string) proc.Command {
	args := make([]string, 0, len(u.Flags)+4)
	args = append(args, u.Flags...)
	args = append(args, "-c", u.Source, "-o", out)
	return proc.Command{Name: compiler, Args: args}
}

// Result is what running a unit produced. Err is set when the compiler could not be started
// or exited with a non-zero status; Output is filled in either way.
type Result struct {
	Unit     *Unit
	Output   string
	Compiled bool
	Err      error
}

func (r Result) Failed() bool { return r.Err != nil }

// Run compiles the unit if it is stale. An up to date unit returns its existing object file
// without spawning anything.
func (u *Unit) Run(compiler string, runner proc.Runner) Result {
	res := Result{Unit: u, Output: u.ObjectPath()}

	if !u.ShouldRecompile() {
		msg.Logger().Debug().Str("unit", u.Rel).Str("object", res.Output).Msg("up to date")
		return res
	}

	out, err := u.Output()
	if err != nil {
		msg.Error("failed to build %q: %v", u.Rel, err)
		res.Err = err
		return res
	}

	cmd := u.Command(compiler, out)
	msg.Step("CC", u.Rel)
	msg.Command(cmd.String())

	res.Compiled = true
	if err := proc.Check(runner, cmd); err != nil {
		msg.Error("failed to build %q", u.Rel)
		res.Err = fmt.Errorf("compile %s: %w", u.Rel, err)
	}
	return res
}
