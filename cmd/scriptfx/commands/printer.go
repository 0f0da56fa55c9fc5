package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func init() {
	// Users can disable colors with NO_COLOR.
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

func warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! %s\n", fmt.Sprintf(format, a...))
}

func step(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, "→ %s\n", fmt.Sprintf(format, a...))
}

// failure prints a title, an explanation and suggestions, and returns a
// short error for cobra, which is set to stay silent.
func failure(w io.Writer, title, explanation string, suggestions ...string) error {
	red.Fprintf(w, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(w, "\n%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintln(w)
		for _, s := range suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	return fmt.Errorf("%s", title)
}
