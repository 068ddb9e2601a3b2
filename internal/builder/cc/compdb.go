package cc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CompileCommandsFile is written to the build directory for clangd and friends.
const CompileCommandsFile = "compile_commands.json"

// CompileCommand is one entry of a JSON compilation database.
type CompileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments"`
	Output    string   `json:"output"`
}

// CompileCommands describes how every registered unit is compiled, in registration order.
func (o *Orchestrator) CompileCommands() []CompileCommand {
	dir, err := filepath.Abs(o.opts.BuildDir)
	if err != nil {
		dir = o.opts.BuildDir
	}

	entries := make([]CompileCommand, 0, len(o.units))
	for _, u := range o.units {
		obj := u.ObjectPath()
		entries = append(entries, CompileCommand{
			Directory: dir,
			File:      u.Source,
			Arguments: u.Command(o.opts.Compiler, obj).Argv(),
			Output:    obj,
		})
	}
	return entries
}

// WriteCompileCommands writes CompileCommands to <build>/compile_commands.json.
func (o *Orchestrator) WriteCompileCommands() (string, error) {
	data, err := json.MarshalIndent(o.CompileCommands(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode compile commands: %w", err)
	}

	path := filepath.Join(o.opts.BuildDir, CompileCommandsFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
