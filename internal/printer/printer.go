package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Colour stays on when piped; NO_COLOR turns it off.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

// Out and Err are where wardenctl writes. Tests swap them for buffers.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a green line prefixed with a checkmark.
func Success(format string, a ...any) {
	green.Fprintf(Out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line prefixed with a warning sign.
func Warning(format string, a ...any) {
	yellow.Fprintf(Out, "⚠️  %s\n", fmt.Sprintf(format, a...))
}

// Failure prints a red line prefixed with a cross.
func Failure(format string, a ...any) {
	red.Fprintf(Out, "✗ %s\n", fmt.Sprintf(format, a...))
}

// Step prints a cyan progress line.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Detail prints an indented, dimmed line under the previous one.
func Detail(format string, a ...any) {
	faint.Fprintf(Out, "    %s\n", fmt.Sprintf(format, a...))
}

// Printf prints without colour.
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Error prints a titled error with an explanation and suggestions to Err and returns an
// error carrying only the title, for cobra to exit on.
func Error(title, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		var b strings.Builder
		b.WriteString("\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
		fmt.Fprint(Err, b.String())
	}

	return fmt.Errorf("%s", title)
}
