// Package proc spawns the external tools qbuild drives: the C++ compiler, the library-config
// helper, the built executable and the example programs it produces.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"
)

// Command describes one subprocess invocation. Nil writers inherit the parent's stdio.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// Runner starts a command and waits for it. The returned error is only set when the process
// could not be started; a process that ran and failed reports a non-zero exit code instead.
type Runner interface {
	Run(cmd Command) (int, error)
}

// ExitError reports a subprocess that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exited with status %d", e.Command, e.Code)
}

type execRunner struct{}

// Exec runs commands with os/exec.
var Exec Runner = execRunner{}

func (execRunner) Run(c Command) (int, error) {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// Check runs cmd and turns a non-zero exit status into an *ExitError.
func Check(r Runner, cmd Command) error {
	code, err := r.Run(cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Command: cmd.String(), Code: code}
	}
	return nil
}

// Output runs cmd and returns what it wrote to stdout.
func Output(r Runner, cmd Command) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := Check(r, cmd); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// Captured is the result of running a command with both streams recorded.
type Captured struct {
	Code   int
	Stdout string
	Stderr string
}

// Capture runs cmd, recording its exit code, stdout and stderr verbatim.
func Capture(r Runner, cmd Command) (Captured, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	code, err := r.Run(cmd)
	if err != nil {
		return Captured{}, err
	}
	return Captured{Code: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
