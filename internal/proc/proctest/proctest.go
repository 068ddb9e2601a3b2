// Package proctest provides a scripted proc.Runner for tests.
package proctest

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/qobs-build/qbuild/internal/proc"
)

// Reply is what a scripted command "does".
type Reply struct {
	Code   int
	Stdout string
	Stderr string
	Err    error
}

// Runner records every command and answers with Handler. A nil Handler succeeds silently.
// Runner is safe for concurrent use.
type Runner struct {
	Handler func(cmd proc.Command) Reply

	// CreateOutputs writes an empty file at the argument following "-o", emulating a compiler.
	CreateOutputs bool

	mu    sync.Mutex
	calls []proc.Command
}

func (r *Runner) Run(cmd proc.Command) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	var reply Reply
	if r.Handler != nil {
		reply = r.Handler(cmd)
	}
	if reply.Err != nil {
		return -1, reply.Err
	}
	if cmd.Stdout != nil {
		io.WriteString(cmd.Stdout, reply.Stdout)
	}
	if cmd.Stderr != nil {
		io.WriteString(cmd.Stderr, reply.Stderr)
	}
	if r.CreateOutputs && reply.Code == 0 {
		if out := OutputArg(cmd); out != "" {
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return -1, err
			}
			if err := os.WriteFile(out, []byte(cmd.String()), 0644); err != nil {
				return -1, err
			}
		}
	}
	return reply.Code, nil
}

// Calls returns a copy of the recorded commands in the order they were started.
func (r *Runner) Calls() []proc.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Reset forgets the recorded commands.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// OutputArg returns the value following "-o" in cmd's arguments.
func OutputArg(cmd proc.Command) string {
	i := slices.Index(cmd.Args, "-o")
	if i < 0 || i+1 >= len(cmd.Args) {
		return ""
	}
	return cmd.Args[i+1]
}

// InputArg returns the value following "-c" in cmd's arguments.
func InputArg(cmd proc.Command) string {
	i := slices.Index(cmd.Args, "-c")
	if i < 0 || i+1 >= len(cmd.Args) {
		return ""
	}
	return cmd.Args[i+1]
}
