package cc

import (
	"fmt"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
)

// LinkError is returned when the link step fails. It wraps the *proc.ExitError of the linker
// when the linker ran and exited non-zero.
type LinkError struct {
	Executable string
	Err        error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("linking %s failed: %v", e.Executable, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// LinkCommand is `<compiler> <link flags> <objects> -o <executable> <libraries>`.
func (o *Orchestrator) LinkCommand(objects []string) proc.Command {
	args := make([]string, 0, len(o.link.Flags)+len(objects)+len(o.link.Libraries)+2)
	args = append(args, o.link.Flags...)
	args = append(args, objects...)
	args = append(args, "-o", o.Executable())
	args = append(args, o.link.Libraries...)
	return proc.Command{Name: o.opts.Compiler, Args: args}
}

func (o *Orchestrator) linkObjects(objects []string) error {
	cmd := o.LinkCommand(objects)
	msg.Step("LINK", o.Executable())
	msg.Command(cmd.String())

	if err := proc.Check(o.opts.Runner, cmd); err != nil {
		return &LinkError{Executable: o.Executable(), Err: err}
	}
	return nil
}
