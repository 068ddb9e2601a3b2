package msg

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	verbose bool
	logger  = zerolog.Nop()
)

// SetOutput redirects status lines, mostly for tests. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// SetVerbose toggles command echoing and the debug logger.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: color.NoColor}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.Nop()
	}
}

func Verbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// Logger returns the debug logger. It discards everything unless verbose output is on.
func Logger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := logger
	return &l
}

// writeLine writes one complete line so concurrent callers never interleave.
func writeLine(line string) {
	mu.Lock()
	defer mu.Unlock()
	io.WriteString(out, line+"\n")
}

func prefixed(prefix, format string, a ...any) {
	writeLine(prefix + ": " + fmt.Sprintf(format, a...))
}

func Error(format string, a ...any) {
	prefixed(color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	prefixed(color.YellowString("warn"), format, a...)
}

func Fatal(format string, a ...any) {
	prefixed(color.RedString("fatal"), format, a...)
	os.Exit(1)
}

func Info(format string, a ...any) {
	prefixed(color.HiGreenString("info"), format, a...)
}

// Exit terminates the process with a status propagated from a failed subprocess.
func Exit(code int) {
	if code == 0 {
		code = 1
	}
	os.Exit(code)
}

// Step prints a build step such as `CC src/main.cpp` or `LINK build/quart`.
func Step(verb, subject string) {
	writeLine(fmt.Sprintf("%s %s", color.HiGreenString("%4s", verb), subject))
}

// Command prints the full command line of a step when verbose output is on.
func Command(cmdline string) {
	if !Verbose() {
		return
	}
	writeLine("     " + color.HiBlackString(cmdline))
}

// Plain prints an uncoloured line through the same locked writer.
func Plain(format string, a ...any) {
	writeLine(strings.TrimSuffix(fmt.Sprintf(format, a...), "\n"))
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	var buf []byte
	for _, c := range p {
		if !w.didIndent {
			buf = append(buf, w.Indent...)
			w.didIndent = true
		}
		buf = append(buf, c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
