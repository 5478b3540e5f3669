// Package printer formats terminal output for the stave CLI and the
// collaboration notices shown while a session runs.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	faint   = color.New(color.Faint)

	mu     sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects normal and error output. Tests use it to capture what
// would be printed. It returns a function restoring the previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

func writers() (io.Writer, io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	return stdout, stderr
}

func prefixed(prefix, msg string) string {
	if strings.HasPrefix(msg, prefix) {
		return msg
	}
	return prefix + " " + msg
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	out, _ := writers()
	green.Fprint(out, prefixed("✓", fmt.Sprintf(format, a...)))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	out, _ := writers()
	fmt.Fprintf(out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	out, _ := writers()
	yellow.Fprint(out, prefixed("⚠️ ", fmt.Sprintf(format, a...)))
}

// Failure prints a non-fatal failure in red to stderr.
func Failure(format string, a ...any) {
	_, errOut := writers()
	red.Fprint(errOut, prefixed("✗", fmt.Sprintf(format, a...)))
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext creates a formatted error with context details, printed
// in key order. The returned error carries only the title.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	_, errOut := writers()

	red.Fprintf(errOut, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(errOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(errOut, "\n")
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(errOut, "  %s: %s\n", key, context[key])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(errOut, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(errOut, "  %d. %s\n", i+1, suggestion)
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	out, _ := writers()
	cyan.Fprintf(out, "→ %s", fmt.Sprintf(format, a...))
}

// Event prints one line of a live event stream:
//
//	15:04:05.000 SET_TRACK_VOLUME  Set volume of track "t1" to 80
func Event(at time.Time, name, detail string) {
	out, _ := writers()
	faint.Fprint(out, at.Format("15:04:05.000")+" ")
	magenta.Fprintf(out, "%-22s", name)
	fmt.Fprintf(out, " %s\n", detail)
}

// KeyValues prints aligned "key: value" rows in the given order.
func KeyValues(rows [][2]string) {
	out, _ := writers()
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		cyan.Fprintf(out, "  %-*s", width+1, row[0]+":")
		fmt.Fprintf(out, " %s\n", row[1])
	}
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	out, _ := writers()
	fmt.Fprintln(out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	out, _ := writers()
	fmt.Fprintf(out, format, a...)
}
