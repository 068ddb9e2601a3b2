package proc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperCommand re-runs the test binary as a fake tool, see TestHelperProcess.
func helperCommand(code int, stdout, stderr string) Command {
	return Command{
		Name: os.Args[0],
		Args: []string{"-test.run=TestHelperProcess", "--", strconv.Itoa(code), stdout, stderr},
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("QBUILD_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	code, _ := strconv.Atoi(args[0])
	fmt.Fprint(os.Stdout, args[1])
	fmt.Fprint(os.Stderr, args[2])
	os.Exit(code)
}

func TestCapture(t *testing.T) {
	t.Setenv("QBUILD_HELPER_PROCESS", "1")

	res, err := Capture(Exec, helperCommand(3, "out\n", "err"))
	require.NoError(t, err)
	assert.Equal(t, Captured{Code: 3, Stdout: "out\n", Stderr: "err"}, res)
}

func TestOutputAndCheck(t *testing.T) {
	t.Setenv("QBUILD_HELPER_PROCESS", "1")

	out, err := Output(Exec, helperCommand(0, "14.0.6\n", ""))
	require.NoError(t, err)
	assert.Equal(t, "14.0.6\n", out)

	err = Check(Exec, helperCommand(2, "", "boom"))
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestSpawnFailure(t *testing.T) {
	code, err := Exec.Run(Command{Name: "qbuild-definitely-not-a-real-tool"})
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "g++", Args: []string{"-DQUART_PATH=\"/opt/my lib\"", "-c", "a.cpp"}}

	argv, err := shellquote.Split(cmd.String())
	require.NoError(t, err)
	assert.Equal(t, cmd.Argv(), argv)
	assert.Equal(t, "g++ -c a.cpp", Command{Name: "g++", Args: []string{"-c", "a.cpp"}}.String())
}
