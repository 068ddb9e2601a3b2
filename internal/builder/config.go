package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/qobs-build/qbuild/internal/toolchain"
)

// ConfigFile is the optional project file read from the project root.
const ConfigFile = "qbuild.toml"

var defaultProfiles = map[string]ProfileSection{
	"release": {
		OptLevel: int64(3),
	},
	"debug": {
		OptLevel: "", // no -O
	},
}

type Config struct {
	Project   ProjectSection            `toml:"project"`
	Toolchain ToolchainSection          `toml:"toolchain"`
	Build     BuildSection              `toml:"build"`
	Profile   map[string]ProfileSection `toml:"profile"`
	Test      TestSection               `toml:"test"`
}

func (c Config) Profiles() []string {
	profiles := slices.Collect(maps.Keys(c.Profile))
	slices.Sort(profiles)
	return profiles
}

// ProjectSection defines the [project] section
type ProjectSection struct {
	Name       string `toml:"name"`
	Require    string `toml:"require"`
	SourceDir  string `toml:"source-dir"`
	BuildDir   string `toml:"build-dir"`
	IncludeDir string `toml:"include-dir"`
	SourceExt  string `toml:"source-ext"`
}

// ToolchainSection defines the [toolchain] section
type ToolchainSection struct {
	Cxx           string `toml:"cxx"`
	ConfigTool    string `toml:"config-tool"`
	ConfigVersion uint64 `toml:"config-version"`
}

// BuildSection defines the [build] section
type BuildSection struct {
	Cxxflags []string          `toml:"cxxflags"`
	Ldflags  []string          `toml:"ldflags"`
	Libs     []string          `toml:"libs"`
	Defines  map[string]string `toml:"defines"`
	// Overrides maps a glob over source-relative paths to extra flags for matching units.
	Overrides       map[string][]string `toml:"overrides"`
	Jobs            int                 `toml:"jobs"`
	RevisionDefine  string              `toml:"revision-define"`
	CompileCommands bool                `toml:"compile-commands"`
}

// ProfileSection defines the [profile.*] section
type ProfileSection struct {
	// OptLevel is an integer or a string such as "s"; empty means no -O flag.
	OptLevel any   `toml:"opt-level"`
	Debug    *bool `toml:"debug"`
}

// OptFlag returns the -O flag for this profile, or "" when none is wanted.
func (p ProfileSection) OptFlag() string {
	var level string
	switch v := p.OptLevel.(type) {
	case int64:
		level = strconv.FormatInt(v, 10)
	case int:
		level = strconv.Itoa(v)
	case string:
		level = v
	}
	if level == "" {
		return ""
	}
	return "-O" + level
}

// DebugInfo reports whether the profile builds with debug symbols. Unless set explicitly only the
// debug profile does.
func (p ProfileSection) DebugInfo(name string) bool {
	if p.Debug != nil {
		return *p.Debug
	}
	return name == "debug"
}

// TestSection defines the [test] section
type TestSection struct {
	Examples string `toml:"examples"`
	Ext      string `toml:"ext"`
	Compiler string `toml:"compiler"`
	Workdir  string `toml:"workdir"`
}

// defaultConfig is what a project without qbuild.toml builds with.
func defaultConfig() *Config {
	return &Config{Profile: maps.Clone(defaultProfiles)}
}

func (c *Config) applyDefaults(projectDir string) {
	setDefault(&c.Project.Name, filepath.Base(projectDir))
	setDefault(&c.Project.SourceDir, "src")
	setDefault(&c.Project.BuildDir, "build")
	setDefault(&c.Project.IncludeDir, "include")
	setDefault(&c.Project.SourceExt, ".cpp")
	setDefault(&c.Test.Examples, "examples")
	setDefault(&c.Test.Ext, ".qr")
	if c.Toolchain.ConfigVersion == 0 {
		c.Toolchain.ConfigVersion = toolchain.DefaultConfigVersion
	}
	if c.Build.Jobs == 0 {
		c.Build.Jobs = 1
	}
}

func setDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection parses a section whose sub-tables may be keyed by an expression.
// Sub-tables whose expression is true are merged into the base section in lexical order.
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env), expr.AsBool())
			if err == nil {
				conditionalFields[key] = subMap
			} else {
				baseFields[key] = val
			}
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	for _, expression := range slices.Sorted(maps.Keys(conditionalFields)) {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(conditionalFields[expression])), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&builder, "%v", result)
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

// ParseConfig decodes a qbuild.toml document. Missing values are filled in with the defaults for
// a project living in env.ProjectDir.
func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := defaultConfig()

	if err := unmarshalSection(rawConfig, "project", &cfg.Project); err != nil {
		return nil, err
	}
	if err := unmarshalSection(rawConfig, "profile", &cfg.Profile); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "toolchain", &cfg.Toolchain, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "build", &cfg.Build, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "test", &cfg.Test, env); err != nil {
		return nil, err
	}

	cfg.applyDefaults(env.ProjectDir)
	return cfg, nil
}

// ParseConfigFromFile parses a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := ParseConfig(bufio.NewReader(f), env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

//
// expr-lang helpers
//

// CheckRequirements evaluates [project] require, which must yield true for the build to go ahead.
func (cfg Config) CheckRequirements(env ConfigEnv) error {
	if cfg.Project.Require == "" {
		return nil
	}

	program, err := expr.Compile(cfg.Project.Require, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("failed to compile requirement for project %q: %w", cfg.Project.Name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to check requirement for project %q: %w", cfg.Project.Name, err)
	}

	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("requirement for project %q is not met\n%s", cfg.Project.Name, cfg.Project.Require)
	}

	return nil
}

type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	ProjectDir string            `expr:"project_dir"`
}

func NewConfigEnv(projectDir string) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
		ProjectDir: projectDir,
	}
}

// ReadFile returns the contents of a file inside the project, without surrounding whitespace.
func (env ConfigEnv) ReadFile(path string) (string, error) {
	fullPath := filepath.Join(env.ProjectDir, path)
	rel, err := filepath.Rel(env.ProjectDir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of project directory %q", path, env.ProjectDir)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
