package golden

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/qobs-build/qbuild/internal/proc/proctest"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// programs maps an example program's base name to how it behaves.
type programs map[string]func(args []string) proctest.Reply

func newHarness(t *testing.T, progs programs) (*Harness, *proctest.Runner) {
	t.Helper()
	root := t.TempDir()
	compiler := filepath.Join(root, "build", "quart")
	require.NoError(t, os.MkdirAll(filepath.Dir(compiler), 0755))
	require.NoError(t, os.WriteFile(compiler, nil, 0755))

	dir := filepath.Join(root, "examples")
	require.NoError(t, os.MkdirAll(dir, 0755))

	runner := &proctest.Runner{Handler: func(cmd proc.Command) proctest.Reply {
		if cmd.Name == compiler {
			if strings.Contains(cmd.Args[0], "broken") {
				return proctest.Reply{Code: 3, Stdout: "compiling", Stderr: "syntax error"}
			}
			return proctest.Reply{}
		}
		if p, ok := progs[filepath.Base(cmd.Name)]; ok {
			return p(cmd.Args)
		}
		return proctest.Reply{Code: 127, Stderr: "not found"}
	}}

	var out bytes.Buffer
	msg.SetOutput(&out)
	t.Cleanup(func() { msg.SetOutput(nil) })

	return &Harness{Compiler: compiler, Dir: dir, Ext: ".qr", Workdir: root, Runner: runner}, runner
}

func addExample(t *testing.T, h *Harness, name string) string {
	t.Helper()
	path := filepath.Join(h.Dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fn main() {}"), 0644))
	return path
}

func add(args []string) proctest.Reply {
	if len(args) != 2 {
		return proctest.Reply{Code: 2, Stderr: "usage: add a b\n"}
	}
	return proctest.Reply{Stdout: "7"}
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, filepath.Join("examples", "add.output.json"), RecordPath(filepath.Join("examples", "add.qx")))
	assert.Equal(t, "hello.output.json", RecordPath("hello.qr"))
	assert.Equal(t, filepath.Join("examples", "add"), Program(filepath.Join("examples", "add.qx")))
}

func TestRecordSaveLoad(t *testing.T) {
	example := filepath.Join(t.TempDir(), "echo.qr")

	rec := &Record{ReturnCode: 1, Args: []string{"a b", ""}, Stdout: "line\n\ttab", Stderr: "ünïcode\n"}
	require.NoError(t, rec.Save(example))

	got, err := Load(example)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	data, err := os.ReadFile(RecordPath(example))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"returncode\": 1,")

	entries, err := os.ReadDir(filepath.Dir(example))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestRecordSaveFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "examples"), 0555))
	if os.Geteuid() == 0 {
		t.Skip("root can write to read-only directories")
	}

	err := (&Record{Stdout: "7"}).Save(filepath.Join(dir, "examples", "add.qr"))
	require.ErrorContains(t, err, "failed to write record")

	entries, err := os.ReadDir(filepath.Join(dir, "examples"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.qr"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUpdateThenRun(t *testing.T) {
	h, runner := newHarness(t, programs{"add": add})
	example := filepath.Join(h.Dir, "add.qx")
	require.NoError(t, os.WriteFile(example, nil, 0644))

	rec, err := h.Update(example, "3", "4")
	require.NoError(t, err)
	assert.Equal(t, &Record{ReturnCode: 0, Args: []string{"3", "4"}, Stdout: "7", Stderr: ""}, rec)

	data, err := os.ReadFile(RecordPath(example))
	require.NoError(t, err)
	assert.JSONEq(t, `{"returncode": 0, "args": ["3", "4"], "stdout": "7", "stderr": ""}`, string(data))

	runner.Reset()
	require.NoError(t, h.Run(example))

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{example}, calls[0].Args)
	assert.Equal(t, filepath.Join(h.Dir, "add"), calls[1].Name)
	assert.Equal(t, []string{"3", "4"}, calls[1].Args)
	assert.Equal(t, h.Workdir, calls[1].Dir)
}

func TestRunMismatch(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		field  string
	}{
		{"trailing newline", Record{Args: []string{}, Stdout: "ok\n"}, "stdout"},
		{"return code", Record{ReturnCode: 1, Args: []string{}, Stdout: "ok"}, "returncode"},
		{"stderr", Record{Args: []string{}, Stdout: "ok", Stderr: "warning\n"}, "stderr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHarness(t, programs{"ok": func([]string) proctest.Reply {
				return proctest.Reply{Stdout: "ok"}
			}})
			example := addExample(t, h, "ok.qr")
			require.NoError(t, tt.record.Save(example))

			err := h.Run(example)
			var mismatch *MismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, tt.field, mismatch.Field)
			assert.Equal(t, example, mismatch.Example)
		})
	}
}

func TestMismatchDiff(t *testing.T) {
	e := &MismatchError{Field: "stdout", Expected: "hello\n", Actual: "hello"}
	assert.NotEmpty(t, e.Diff())
	assert.Contains(t, e.Error(), `expected "hello\n", got "hello"`)
}

func TestCompileFailure(t *testing.T) {
	h, runner := newHarness(t, nil)
	example := addExample(t, h, "broken.qr")

	_, err := h.Update(example)
	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, 3, compileErr.Code)
	assert.Equal(t, "compiling", compileErr.Stdout)
	assert.Equal(t, "syntax error", compileErr.Stderr)

	assert.Len(t, runner.Calls(), 1, "the program is not run")
	assert.NoFileExists(t, RecordPath(example))
}

func TestUpdateRejectsNonUTF8Output(t *testing.T) {
	tests := []struct {
		name  string
		reply proctest.Reply
	}{
		{"stdout", proctest.Reply{Stdout: "\xff\xfe raw\n"}},
		{"stderr", proctest.Reply{Stdout: "ok", Stderr: "bad \xc3\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHarness(t, programs{"bytes": func([]string) proctest.Reply { return tt.reply }})
			example := addExample(t, h, "bytes.qr")

			_, err := h.Update(example)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrBinaryOutput))
			assert.NoFileExists(t, RecordPath(example))

			_, err = h.Sweep(false)
			assert.True(t, eris.Is(err, ErrBinaryOutput))
			assert.NoFileExists(t, RecordPath(example))
		})
	}
}

func TestSweep(t *testing.T) {
	h, _ := newHarness(t, programs{
		"add": add,
		"hello": func([]string) proctest.Reply {
			return proctest.Reply{Stdout: "Hello, World!\n"}
		},
	})
	add := addExample(t, h, "add.qr")
	hello := addExample(t, h, "hello.qr")
	addExample(t, h, "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Join(h.Dir, "nested.qr"), 0755))
	require.NoError(t, (&Record{Args: []string{"3", "4"}, Stdout: "7"}).Save(add))

	sum, err := h.Sweep(false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Tested: 1, Updated: 1}, sum)
	assert.Equal(t, "Successfully compiled and tested 1 examples (1 updated).", sum.String())

	rec, err := Load(hello)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!\n", rec.Stdout)
	assert.Empty(t, rec.Args)

	sum, err = h.Sweep(false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Tested: 2}, sum)
}

func TestSweepUpdateKeepsArguments(t *testing.T) {
	h, _ := newHarness(t, programs{"add": add})
	example := addExample(t, h, "add.qr")
	require.NoError(t, (&Record{ReturnCode: 9, Args: []string{"3", "4"}, Stdout: "stale"}).Save(example))

	sum, err := h.Sweep(true)
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1}, sum)

	rec, err := Load(example)
	require.NoError(t, err)
	assert.Equal(t, &Record{Args: []string{"3", "4"}, Stdout: "7"}, rec)
}

func TestSweepStopsAtFirstMismatch(t *testing.T) {
	h, runner := newHarness(t, programs{"a": func([]string) proctest.Reply { return proctest.Reply{Stdout: "a"} }})
	a := addExample(t, h, "a.qr")
	b := addExample(t, h, "b.qr")
	require.NoError(t, (&Record{Args: []string{}, Stdout: "b"}).Save(a))
	require.NoError(t, (&Record{Args: []string{}}).Save(b))

	_, err := h.Sweep(false)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, a, mismatch.Example)
	for _, c := range runner.Calls() {
		assert.NotContains(t, c.Args, b)
	}
}

func TestSweepMissingExecutable(t *testing.T) {
	h, runner := newHarness(t, nil)
	addExample(t, h, "add.qr")
	h.Compiler = filepath.Join(h.Workdir, "build", "missing")

	_, err := h.Sweep(false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingExecutable))
	assert.Empty(t, runner.Calls())
}
