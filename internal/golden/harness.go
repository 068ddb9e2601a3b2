// Package golden checks example programs against recorded outputs. Each example is compiled with
// the freshly built executable, the resulting program is run, and its exit code, stdout and
// stderr are compared with the example's record.
package golden

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/rotisserie/eris"
	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	// ErrMissingExecutable is returned by Sweep when there is no compiler to test with.
	ErrMissingExecutable = eris.New("executable not found")
	// ErrBinaryOutput is returned by Update when the program wrote output that is not UTF-8 text.
	ErrBinaryOutput = eris.New("output is not valid UTF-8, refusing to record it")
)

// CompileError reports an example the compiler rejected.
type CompileError struct {
	Example string
	Code    int
	Stdout  string
	Stderr  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s (exit status %d)", e.Example, e.Code)
}

// MismatchError reports the first field of a record that the program did not reproduce.
type MismatchError struct {
	Example  string
	Field    string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("example %s: %s mismatch: expected %q, got %q", e.Example, e.Field, e.Expected, e.Actual)
}

// Diff renders the difference between the expected and actual values.
func (e *MismatchError) Diff() string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(e.Expected, e.Actual, false)
	return dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs))
}

// Summary counts what a sweep did.
type Summary struct {
	Tested  int
	Updated int
}

func (s Summary) String() string {
	return fmt.Sprintf("Successfully compiled and tested %d examples (%d updated).", s.Tested, s.Updated)
}

type Harness struct {
	// Compiler is the built executable, invoked as `<Compiler> <example>`.
	Compiler string
	// Dir holds the examples; only files directly inside it are considered.
	Dir string
	// Ext selects example files, e.g. ".qr".
	Ext string
	// Workdir is the working directory of every spawned process.
	Workdir string
	Runner  proc.Runner
}

func (h *Harness) runner() proc.Runner {
	if h.Runner == nil {
		return proc.Exec
	}
	return h.Runner
}

// Program is the executable the compiler produces for example: the example path without its
// extension.
func Program(example string) string {
	return strings.TrimSuffix(example, filepath.Ext(example))
}

// Compile runs the compiler on example.
func (h *Harness) Compile(example string) error {
	cmd := proc.Command{Name: h.Compiler, Args: []string{example}, Dir: h.Workdir}
	msg.Command(cmd.String())

	res, err := proc.Capture(h.runner(), cmd)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", h.Compiler, err)
	}
	if res.Code != 0 {
		return &CompileError{Example: example, Code: res.Code, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return nil
}

func (h *Harness) execute(example string, args []string) (*Record, error) {
	cmd := proc.Command{Name: Program(example), Args: args, Dir: h.Workdir}
	msg.Command(cmd.String())

	res, err := proc.Capture(h.runner(), cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run example %s: %w", example, err)
	}
	return &Record{
		ReturnCode: res.Code,
		Args:       slices.Clone(args),
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}, nil
}

// Run compiles example, runs it with the recorded arguments and compares the outcome with the
// record. Values must match exactly.
func (h *Harness) Run(example string) error {
	if err := h.Compile(example); err != nil {
		return err
	}

	want, err := Load(example)
	if err != nil {
		return err
	}
	got, err := h.execute(example, want.Args)
	if err != nil {
		return err
	}

	switch {
	case got.ReturnCode != want.ReturnCode:
		return &MismatchError{Example: example, Field: "returncode", Expected: fmt.Sprint(want.ReturnCode), Actual: fmt.Sprint(got.ReturnCode)}
	case got.Stdout != want.Stdout:
		return &MismatchError{Example: example, Field: "stdout", Expected: want.Stdout, Actual: got.Stdout}
	case got.Stderr != want.Stderr:
		return &MismatchError{Example: example, Field: "stderr", Expected: want.Stderr, Actual: got.Stderr}
	}
	return nil
}

// Update compiles example, runs it with args and overwrites its record with the outcome.
func (h *Harness) Update(example string, args ...string) (*Record, error) {
	if err := h.Compile(example); err != nil {
		return nil, err
	}
	rec, err := h.execute(example, args)
	if err != nil {
		return nil, err
	}
	// records are JSON text; invalid UTF-8 would be replaced and never match again
	if !utf8.ValidString(rec.Stdout) || !utf8.ValidString(rec.Stderr) {
		return nil, eris.Wrapf(ErrBinaryOutput, "example %s", example)
	}
	if err := rec.Save(example); err != nil {
		return nil, err
	}
	return rec, nil
}

// Examples lists the example files in Dir in lexical order.
func (h *Harness) Examples() ([]string, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}

	var examples []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != h.Ext {
			continue
		}
		examples = append(examples, filepath.Join(h.Dir, e.Name()))
	}
	return examples, nil
}

// Sweep checks every example. Examples without a record, or every example when update is set,
// get a fresh record; an update keeps the arguments of an existing record. The first compile
// failure or mismatch ends the sweep.
func (h *Harness) Sweep(update bool) (Summary, error) {
	var sum Summary
	if _, err := os.Stat(h.Compiler); err != nil {
		return sum, eris.Wrapf(ErrMissingExecutable, "%s not found, build the project before running the examples", h.Compiler)
	}

	examples, err := h.Examples()
	if err != nil {
		return sum, err
	}

	for i, example := range examples {
		msg.Plain("Running example %d (%s)", i, example)

		rec, err := Load(example)
		missing := errors.Is(err, fs.ErrNotExist)
		if err != nil && !missing && !update {
			return sum, err
		}

		if missing || update {
			var args []string
			if rec != nil {
				args = rec.Args
			}
			if _, err := h.Update(example, args...); err != nil {
				return sum, err
			}
			sum.Updated++
			continue
		}

		if err := h.Run(example); err != nil {
			return sum, err
		}
		sum.Tested++
	}
	return sum, nil
}
