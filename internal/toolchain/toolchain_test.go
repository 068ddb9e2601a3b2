package toolchain

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/qobs-build/qbuild/internal/proc/proctest"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProbe builds a probe where only the tools in onPath exist, at /usr/bin/<name>.
func newProbe(runner *proctest.Runner, env map[string]string, onPath ...string) *Probe {
	p := NewProbe(runner)
	p.LookPath = func(file string) (string, error) {
		for _, name := range onPath {
			if name == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
	p.Getenv = func(key string) string { return env[key] }
	return p
}

func llvmConfig(version string) func(proc.Command) proctest.Reply {
	return func(cmd proc.Command) proctest.Reply {
		switch {
		case len(cmd.Args) == 1 && cmd.Args[0] == "--version":
			return proctest.Reply{Stdout: version + "\n"}
		case len(cmd.Args) == 1 && cmd.Args[0] == "--cxxflags":
			return proctest.Reply{Stdout: "-I/usr/lib/llvm-14/include -std=c++14 '-DNAME=with space'\n"}
		case len(cmd.Args) == 3 && cmd.Args[0] == "--libs":
			return proctest.Reply{Stdout: "-L/usr/lib/llvm-14/lib -lLLVM-14 -lz\n"}
		}
		return proctest.Reply{Code: 1}
	}
}

func TestResolveCompiler(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		p := newProbe(&proctest.Runner{}, nil, "clang++")
		path, err := p.ResolveCompiler("clang++")
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/clang++", path)
	})

	t.Run("from CXX", func(t *testing.T) {
		p := newProbe(&proctest.Runner{}, map[string]string{"CXX": "clang++"}, "g++", "clang++")
		path, err := p.ResolveCompiler("")
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/clang++", path)
	})

	t.Run("first common compiler", func(t *testing.T) {
		p := newProbe(&proctest.Runner{}, nil, "c++")
		path, err := p.ResolveCompiler("")
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/c++", path)
	})

	t.Run("missing", func(t *testing.T) {
		p := newProbe(&proctest.Runner{}, nil)
		_, err := p.ResolveCompiler("g++")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrToolNotFound))
	})

	t.Run("version check fails", func(t *testing.T) {
		runner := &proctest.Runner{Handler: func(proc.Command) proctest.Reply { return proctest.Reply{Code: 1} }}
		p := newProbe(runner, nil, "g++")
		_, err := p.ResolveCompiler("g++")
		assert.True(t, eris.Is(err, ErrToolNotFound))
	})
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		raw   string
		major uint64
		ok    bool
	}{
		{"14.0.6", 14, true},
		{"v15.0.7", 15, true},
		{"14.0.0git", 14, true},
		{"18.1.8-rc1", 18, true},
		{"17git", 17, true},
		{"15.0.7", 15, true},
		{"not a version", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := parseVersion(tt.raw)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.major, v.Major())
		})
	}
}

func TestResolveConfig(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("14.0.6")}, nil, "llvm-config-14")
		path, err := p.ResolveConfig("llvm-config-14", 14)
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/llvm-config-14", path)
	})

	t.Run("wrong major", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("15.0.7")}, nil, "llvm-config")
		_, err := p.ResolveConfig("llvm-config", 14)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrVersionMismatch))
		assert.Contains(t, err.Error(), "expected version 14, got 15.0.7")
	})

	t.Run("development build", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("14.0.0git")}, nil, "llvm-config-14")
		path, err := p.ResolveConfig("llvm-config-14", 14)
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/llvm-config-14", path)
	})

	t.Run("development build of another major", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("15.0.7git")}, nil, "llvm-config")
		_, err := p.ResolveConfig("llvm-config", 14)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrVersionMismatch))
		assert.Contains(t, err.Error(), "expected version 14, got 15.0.7git")
	})

	t.Run("garbage version", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("not a version")}, nil, "llvm-config")
		_, err := p.ResolveConfig("llvm-config", 14)
		assert.True(t, eris.Is(err, ErrVersionMismatch))
	})

	t.Run("not on path", func(t *testing.T) {
		p := newProbe(&proctest.Runner{Handler: llvmConfig("14.0.0")}, nil)
		_, err := p.ResolveConfig("llvm-config-14", 14)
		assert.True(t, eris.Is(err, ErrToolNotFound))
	})

	t.Run("cannot start", func(t *testing.T) {
		runner := &proctest.Runner{Handler: func(proc.Command) proctest.Reply {
			return proctest.Reply{Err: errors.New("exec format error")}
		}}
		p := newProbe(runner, nil, "llvm-config-14")
		_, err := p.ResolveConfig("llvm-config-14", 14)
		assert.True(t, eris.Is(err, ErrToolNotFound))
	})
}

func TestResolve(t *testing.T) {
	runner := &proctest.Runner{Handler: llvmConfig("14.0.6")}
	p := newProbe(runner, nil, "g++", "llvm-config-14")

	tc, err := p.Resolve("g++", "llvm-config-14", DefaultConfigVersion)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/g++", tc.Compiler)
	assert.Equal(t, "/usr/bin/llvm-config-14", tc.ConfigTool)
	assert.Equal(t, []string{"-I/usr/lib/llvm-14/include", "-std=c++14", "-DNAME=with space"}, tc.CompileFlags)
	assert.Equal(t, []string{"-L/usr/lib/llvm-14/lib", "-lLLVM-14", "-lz"}, tc.Libraries)

	var queried [][]string
	for _, call := range runner.Calls() {
		if call.Name == "/usr/bin/llvm-config-14" {
			queried = append(queried, call.Args)
		}
	}
	assert.Equal(t, [][]string{
		{"--version"},
		{"--cxxflags"},
		{"--libs", "--system-libs", "--ldflags"},
	}, queried)
}

func TestResolveWithoutConfigTool(t *testing.T) {
	runner := &proctest.Runner{}
	p := newProbe(runner, nil, "g++")

	tc, err := p.Resolve("", "", DefaultConfigVersion)
	require.NoError(t, err)
	assert.Equal(t, &Toolchain{Compiler: "/usr/bin/g++"}, tc)
	assert.Len(t, runner.Calls(), 1)
}
