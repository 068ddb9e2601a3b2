// qbuild init [name], qbuild new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/qbuild/internal/builder"
	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		msg.Plain("%s file: %s", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "qbuild"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn scaffolds a project in an existing directory
func initIn(dir, name string) {
	writefile(`[project]
name = "`+name+`"

[build]
cxxflags = ["-Wall", "-std=c++17"]
jobs = 4

[test]
examples = "examples"
ext = ".qr"
`, dir, builder.ConfigFile)

	mkdir(dir, "src")
	mkdir(dir, "include")
	mkdir(dir, "examples")

	writefile(`#include <iostream>

int main(int argc, char **argv) {
    if (argc < 2) {
        std::cerr << "usage: " << argv[0] << " <file>\n";
        return 1;
    }
    std::cout << "Hello, World!\n";
    return 0;
}
`, dir, "src", "main.cpp")

	writefile(`build/
examples/*
!examples/*.qr
!examples/*.output.json
`, dir, ".gitignore")

	programName := getProgramName()
	msg.Plain("You can now do %s to build, %s to build and run, or %s to check the examples.",
		color.HiCyanString(programName+" "+dir),
		color.HiCyanString(programName+" run "+dir),
		color.HiCyanString(fmt.Sprintf("%s test -C %s", programName, dir)))
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new project in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]))
	},
}

func init() {
	// qbuild init subcommand
	rootCmd.AddCommand(initCmd)

	// qbuild new subcommand
	rootCmd.AddCommand(newCmd)
}
