// Package toolchain locates the C++ compiler and the library-config helper (llvm-config and
// friends) and validates the helper's version before anything is compiled.
package toolchain

import (
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/kballard/go-shellquote"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/qobs-build/qbuild/internal/proc"
	"github.com/rotisserie/eris"
)

var (
	ErrToolNotFound    = eris.New("tool not found")
	ErrVersionMismatch = eris.New("tool version mismatch")
)

// DefaultConfigVersion is the major version expected from the library-config helper.
const DefaultConfigVersion = 14

var commonCxxCompilers = []string{"g++", "clang++", "c++", "icpx", "icpc"}

// Toolchain is everything the build needs from the host tools.
type Toolchain struct {
	Compiler     string
	ConfigTool   string
	CompileFlags []string
	Libraries    []string
}

// Probe resolves tools through Runner. LookPath defaults to exec.LookPath and Getenv to os.Getenv.
type Probe struct {
	Runner   proc.Runner
	LookPath func(file string) (string, error)
	Getenv   func(key string) string
}

func NewProbe(r proc.Runner) *Probe {
	return &Probe{Runner: r, LookPath: exec.LookPath, Getenv: os.Getenv}
}

// ResolveCompiler returns the C++ compiler to use: name when given, otherwise $CXX, otherwise
// the first common compiler on PATH. The compiler must answer `--version` successfully.
func (p *Probe) ResolveCompiler(name string) (string, error) {
	candidates := []string{name}
	if name == "" {
		candidates = nil
		if cxx := p.Getenv("CXX"); cxx != "" {
			candidates = append(candidates, cxx)
		} else {
			candidates = append(candidates, commonCxxCompilers...)
		}
	}

	for _, candidate := range candidates {
		path, err := p.LookPath(candidate)
		if err != nil {
			continue
		}
		if _, err := proc.Output(p.Runner, proc.Command{Name: path, Args: []string{"--version"}}); err != nil {
			msg.Logger().Debug().Str("compiler", path).Err(err).Msg("compiler rejected")
			continue
		}
		return path, nil
	}

	if name == "" {
		return "", eris.Wrapf(ErrToolNotFound, "could not find a C++ compiler (tried %s)", strings.Join(candidates, ", "))
	}
	return "", eris.Wrapf(ErrToolNotFound, "could not find C++ compiler %q", name)
}

// ResolveConfig checks that the library-config helper exists and reports the expected major
// version.
func (p *Probe) ResolveConfig(name string, major uint64) (string, error) {
	path, err := p.LookPath(name)
	if err != nil {
		return "", eris.Wrapf(ErrToolNotFound, "could not find %q", name)
	}

	out, err := proc.Output(p.Runner, proc.Command{Name: path, Args: []string{"--version"}})
	if err != nil {
		return "", eris.Wrapf(ErrToolNotFound, "could not run %q: %v", name, err)
	}

	raw := strings.TrimSpace(out)
	version, err := parseVersion(raw)
	if err != nil {
		return "", eris.Wrapf(ErrVersionMismatch, "%q reported an unparsable version %q", name, raw)
	}
	if version.Major() != major {
		return "", eris.Wrapf(ErrVersionMismatch, "expected version %d, got %s", major, raw)
	}

	msg.Logger().Debug().Str("tool", path).Str("version", version.String()).Msg("config tool accepted")
	return path, nil
}

var versionPrefix = regexp.MustCompile(`^\d+(\.\d+){0,2}`)

// parseVersion accepts anything semver does and otherwise falls back to the leading numeric
// part, so development builds reporting e.g. "14.0.0git" still resolve.
func parseVersion(raw string) (*semver.Version, error) {
	if v, err := semver.NewVersion(raw); err == nil {
		return v, nil
	}
	prefix := versionPrefix.FindString(raw)
	if prefix == "" {
		return nil, eris.Errorf("no version number in %q", raw)
	}
	return semver.NewVersion(prefix)
}

// LibraryFlags returns the link libraries, system libraries and linker flags of the helper.
func (p *Probe) LibraryFlags(tool string) ([]string, error) {
	return p.query(tool, "--libs", "--system-libs", "--ldflags")
}

// CompileFlags returns the compile flags of the helper.
func (p *Probe) CompileFlags(tool string) ([]string, error) {
	return p.query(tool, "--cxxflags")
}

func (p *Probe) query(tool string, args ...string) ([]string, error) {
	out, err := proc.Output(p.Runner, proc.Command{Name: tool, Args: args})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to query %s %s", tool, strings.Join(args, " "))
	}
	flags, err := shellquote.Split(out)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse output of %s %s", tool, strings.Join(args, " "))
	}
	return flags, nil
}

// Resolve probes the compiler and, when configTool is not empty, the library-config helper.
func (p *Probe) Resolve(cxx, configTool string, major uint64) (*Toolchain, error) {
	compiler, err := p.ResolveCompiler(cxx)
	if err != nil {
		return nil, err
	}
	tc := &Toolchain{Compiler: compiler}
	if configTool == "" {
		return tc, nil
	}

	if tc.ConfigTool, err = p.ResolveConfig(configTool, major); err != nil {
		return nil, err
	}
	if tc.CompileFlags, err = p.CompileFlags(tc.ConfigTool); err != nil {
		return nil, err
	}
	if tc.Libraries, err = p.LibraryFlags(tc.ConfigTool); err != nil {
		return nil, err
	}
	return tc, nil
}
